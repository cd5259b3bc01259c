package notification

type DispatchPayload struct {
	Event ProgressionEvent `json:"event"`
}
