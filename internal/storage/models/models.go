package models

import (
	"time"

	"github.com/policyqa/backend/internal/domain"
)

type QueryRecord struct {
	ID                 string
	UserID             string
	CaseID             string
	QueryText          string
	Response           string
	Status             string
	Intent             string
	Confidence         float64
	VectorResultsCount int
	GraphResultsCount  int
	ReviewID           string
	LatencyMS          int
	CreatedAt          time.Time
}

type QuerySource struct {
	ID         int
	QueryID    string
	SourceType string
	SourceID   string
	SectionID  string
	Score      float64
}

type ReviewStatus string

const (
	ReviewPending       ReviewStatus = "pending"
	ReviewInReview      ReviewStatus = "in_review"
	ReviewApproved      ReviewStatus = "approved"
	ReviewRejected      ReviewStatus = "rejected"
	ReviewNeedsRevision ReviewStatus = "needs_revision"
)

// Terminal statuses accept no further feedback.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewApproved || s == ReviewRejected
}

func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewPending, ReviewInReview, ReviewApproved, ReviewRejected, ReviewNeedsRevision:
		return true
	}
	return false
}

type ReviewPriority string

const (
	PriorityNone   ReviewPriority = ""
	PriorityHigh   ReviewPriority = "high"
	PriorityMedium ReviewPriority = "medium"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionRevise  Decision = "revise"
)

// RetrievalTrace keeps enough of the request to let a reviewer see what the
// answer was built from.
type RetrievalTrace struct {
	VectorHits   []domain.VectorHit `json:"vector_hits"`
	GraphPaths   []string           `json:"graph_paths"`
	ContextItems []string           `json:"context_items"`
	TotalTokens  int                `json:"total_tokens"`
	Excluded     int                `json:"excluded"`
}

type ReviewMetadata struct {
	Intent        domain.Intent          `json:"intent"`
	Entities      []domain.EntityMention `json:"entities"`
	Flags         []domain.SubstringFlag `json:"flags,omitempty"`
	Confidence    domain.ConfidenceScore `json:"confidence"`
	Citations     []string               `json:"citations"`
	Trace         RetrievalTrace         `json:"trace"`
	AnswerStatus  domain.AnswerStatus    `json:"answer_status"`
	FailureReason string                 `json:"failure_reason,omitempty"`
	Attempts      int                    `json:"attempts"`
	QueryID       string                 `json:"query_id"`
}

type ReviewItem struct {
	ID           string         `json:"id"`
	QuestionHash string         `json:"question_hash"`
	Question     string         `json:"question"`
	Answer       string         `json:"answer"`
	UserID       string         `json:"user_id"`
	CaseID       string         `json:"case_id"`
	Confidence   float64        `json:"confidence"`
	Priority     ReviewPriority `json:"priority"`
	Status       ReviewStatus   `json:"status"`
	Reason       string         `json:"reason"`
	Reviewer     string         `json:"reviewer,omitempty"`
	Metadata     ReviewMetadata `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type ReviewFilter struct {
	Status   ReviewStatus
	Priority ReviewPriority
	UserID   string
	Limit    int
}

// ReviewPatch is applied only while the item is still in From.
type ReviewPatch struct {
	From      ReviewStatus
	To        ReviewStatus
	Reviewer  string
	UpdatedAt time.Time
}

type Feedback struct {
	ID              string    `json:"id"`
	ReviewID        string    `json:"review_id"`
	Reviewer        string    `json:"reviewer"`
	Decision        Decision  `json:"decision"`
	CorrectedAnswer string    `json:"corrected_answer,omitempty"`
	CorrectedIntent string    `json:"corrected_intent,omitempty"`
	Comments        string    `json:"comments,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type AnswerOverride struct {
	QuestionHash string    `json:"question_hash"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer"`
	ReviewID     string    `json:"review_id"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}
