package webhook

// Wire shapes for the accepted event families. Only the fields the dispatcher
// reads are declared; everything else in the payload is ignored.

type pushEvent struct {
	Ref     string `json:"ref"`
	Commits []struct {
		ID       string   `json:"id"`
		Message  string   `json:"message"`
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"commits"`
}

type pullRequestEvent struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
		State   string `json:"state"`
		Merged  bool   `json:"merged"`
		Head    struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
}

type workflowRunEvent struct {
	Action      string `json:"action"`
	WorkflowRun struct {
		Name       string `json:"name"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		HeadCommit struct {
			Message string `json:"message"`
		} `json:"head_commit"`
	} `json:"workflow_run"`
}

type checkRunEvent struct {
	Action   string `json:"action"`
	CheckRun struct {
		Name       string `json:"name"`
		Conclusion string `json:"conclusion"`
		Output     struct {
			Summary string `json:"summary"`
		} `json:"output"`
	} `json:"check_run"`
}

// ciEvent is the generic CI envelope for systems that post directly instead
// of going through a forge. The decision id may be carried explicitly or
// buried in text.
type ciEvent struct {
	EventType   string         `json:"event_type"`
	DecisionID  string         `json:"decision_id"`
	Text        string         `json:"text"`
	Passed      *bool          `json:"passed"`
	Conclusion  string         `json:"conclusion"`
	Description string         `json:"description"`
	Severity    string         `json:"severity"`
	Metrics     map[string]any `json:"metrics"`
}
