package httpclient

import (
	"errors"
	"fmt"
	"io"
)

// BodyTooLargeError reports a response body that exceeded the read limit.
type BodyTooLargeError struct {
	Limit int64
}

func (e BodyTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeded %d bytes", e.Limit)
}

// IsBodyTooLarge reports whether err came from a limit violation.
func IsBodyTooLarge(err error) bool {
	var tooLarge BodyTooLargeError
	return errors.As(err, &tooLarge)
}

// ReadAllLimited reads r fully up to limit bytes. A non-positive limit reads
// without bound. One extra byte is read to tell "exactly at the limit" apart
// from "over it".
func ReadAllLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, BodyTooLargeError{Limit: limit}
	}
	return data, nil
}
