package wire

import (
	"time"

	"github.com/SirClappington/checkq/internal/domain"
)

// Checker operation types carried in CheckerRequest.Type.
const (
	OpFetch  = 1
	OpReport = 2
	OpExtend = 3
)

// CheckerRequest is the single envelope agents post to the checker endpoint.
// Which fields matter depends on Type.
type CheckerRequest struct {
	Type int `json:"type"`

	// fetch
	Amount     int `json:"amount,omitempty"`
	CheckClass int `json:"checkClass,omitempty"`

	// report and extend
	ID      string `json:"id,omitempty"`
	Lease   string `json:"lease,omitempty"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

type CheckerJob struct {
	ID         string `json:"id"`
	Payload    string `json:"payload"`
	CheckClass int    `json:"checkClass"`
}

type FetchResponse struct {
	Jobs   []CheckerJob `json:"jobs"`
	Lease  string       `json:"lease,omitempty"`
	Paused bool         `json:"paused"`
}

type ReportResponse struct {
	Accepted bool   `json:"accepted"`
	Outcome  string `json:"outcome"`
}

type ExtendResponse struct {
	Extended bool `json:"extended"`
}

type HandshakeRequest struct {
	AgentID string `json:"agentId"`
}

// HandshakeResponse tells a freshly authenticated agent how to poll.
type HandshakeResponse struct {
	AgentID             string `json:"agentId"`
	CheckClasses        []int  `json:"checkClasses"`
	BatchSize           int    `json:"batchSize"`
	LeaseTimeoutSeconds int    `json:"leaseTimeoutSeconds"`
}

type EnqueueItem struct {
	SubmissionID string `json:"submissionId,omitempty"`
	Payload      string `json:"payload"`
	CheckClass   int    `json:"checkClass"`
}

type EnqueueRequest struct {
	Jobs []EnqueueItem `json:"jobs"`
}

type EnqueueResponse struct {
	Jobs []JobView `json:"jobs"`
}

// JobView is the collaborator-facing view of a stored job. Lease tokens are
// never exposed.
type JobView struct {
	ID             string     `json:"id"`
	SubmissionID   string     `json:"submissionId,omitempty"`
	CheckClass     int        `json:"checkClass"`
	Status         int        `json:"status"`
	StatusName     string     `json:"statusName"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	ResultMessage  string     `json:"resultMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewCheckerJobs(jobs []domain.Job) []CheckerJob {
	out := make([]CheckerJob, len(jobs))
	for i, j := range jobs {
		out[i] = CheckerJob{ID: j.ID, Payload: j.Payload, CheckClass: j.CheckClass}
	}
	return out
}

func NewJobView(j domain.Job) JobView {
	v := JobView{
		ID:             j.ID,
		CheckClass:     j.CheckClass,
		Status:         int(j.Status),
		StatusName:     j.Status.String(),
		LeaseExpiresAt: j.LeaseExpiresAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if j.SubmissionID != nil {
		v.SubmissionID = *j.SubmissionID
	}
	if j.ResultMessage != nil {
		v.ResultMessage = *j.ResultMessage
	}
	return v
}

func (it EnqueueItem) NewJob() domain.NewJob {
	return domain.NewJob{SubmissionID: it.SubmissionID, Payload: it.Payload, CheckClass: it.CheckClass}
}
