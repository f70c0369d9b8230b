package model

import "time"

// AssessmentInfo is the catalog row of one assessment version.
type AssessmentInfo struct {
	Version        string    `json:"version"`
	Course         string    `json:"course"`
	Unit           int       `json:"unit"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	AllowedSeconds int64     `json:"allowed_seconds"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ActionRequest is the payload posted by the student client.
type ActionRequest struct {
	Action     string   `json:"action" binding:"required,max=32"`
	Index      int      `json:"index" binding:"gte=-1"`
	PostedItem *int     `json:"posted_item" binding:"omitempty,gte=0"`
	Response   []string `json:"response" binding:"omitempty,max=64,dive,max=256"`
}

// OpenAssessmentQuery carries optional parameters of the open call.
type OpenAssessmentQuery struct {
	Redirect string `form:"redirect" binding:"omitempty,max=512"`
}

// ProctorCodeResponse is returned when a handoff code is issued.
type ProctorCodeResponse struct {
	Code string `json:"code"`
}

// ProctorCodeLookup is the admin view of a resolved code.
type ProctorCodeLookup struct {
	Code          string `json:"code"`
	InteractionID string `json:"interaction_id"`
	StudentID     string `json:"student_id,omitempty"`
}

// SessionListQuery filters and pages the admin session listing.
type SessionListQuery struct {
	AssessmentID string `form:"assessment_id" binding:"omitempty,max=64"`
	State        string `form:"state" binding:"omitempty,oneof=INITIAL INSTRUCTIONS ITEM SUBMIT COMPLETED SOLUTION"`
	Page         int    `form:"page,default=1" binding:"gte=1"`
	PerPage      int    `form:"per_page,default=50" binding:"gte=1,lte=200"`
}

// ForceResult reports the outcome of an administrative control.
type ForceResult struct {
	InteractionID string `json:"interaction_id"`
	AssessmentID  string `json:"assessment_id"`
	Action        string `json:"action"`
	Result        any    `json:"result,omitempty"`
	Warning       string `json:"warning,omitempty"`
}
