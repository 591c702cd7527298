package httpapi

type RunStatus struct {
	LastRunAt string `json:"last_run_at"`
	LastOkAt  string `json:"last_ok_at"`
	LastError string `json:"last_error"`
	LastRunID string `json:"last_run_id"`
	LastSent  int    `json:"last_sent"`
	Running   bool   `json:"running"`
}
