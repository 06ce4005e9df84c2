package api

import "github.com/xkilldash9x/freeform/internal/editor/state"

// Response is the envelope of every API reply.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DeleteResponse reports whether a record existed.
type DeleteResponse struct {
	Success bool `json:"success"`
	Deleted bool `json:"deleted"`
}

// BatchRequest is the body of PUT /api/elements.
type BatchRequest struct {
	States []state.ElementState `json:"states"`
}

// BatchResult is the outcome for one record of a batch.
type BatchResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchResponse is the reply to PUT /api/elements.
type BatchResponse struct {
	Success bool          `json:"success"`
	Results []BatchResult `json:"results"`
}

// HistoryStatus summarizes the undo stack.
type HistoryStatus struct {
	CanUndo bool                 `json:"canUndo"`
	CanRedo bool                 `json:"canRedo"`
	Index   int                  `json:"index"`
	Length  int                  `json:"length"`
	Entries []state.HistoryEntry `json:"entries,omitempty"`
}

// StepResponse is the reply to an undo or redo.
type StepResponse struct {
	Success bool          `json:"success"`
	Applied bool          `json:"applied"`
	Step    *state.Step   `json:"step,omitempty"`
	History HistoryStatus `json:"history"`
}
