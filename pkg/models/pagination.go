package models

type PaginationRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type PaginationResponse struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Count   int  `json:"count"`
	HasMore bool `json:"has_more"`
}

// StoreStats summarizes the local store for admin views and gauges.
type StoreStats struct {
	Messages      int `json:"messages"`
	Pending       int `json:"pending"`
	Dirty         int `json:"dirty"`
	Deleted       int `json:"deleted"`
	Conversations int `json:"conversations"`
}
