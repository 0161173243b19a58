package api

// DatabasePayload is one inventory entry sent with a status ping
type DatabasePayload struct {
	Name        string `json:"name"`
	Dbms        string `json:"dbms"`
	GeneratedID string `json:"generatedId"`
}

// StatusRequest is the body of POST /agent/{id}/status
type StatusRequest struct {
	Version   string            `json:"version"`
	Databases []DatabasePayload `json:"databases"`
}

// AgentInfo identifies the agent in a status response
type AgentInfo struct {
	ID          string `json:"id"`
	LastContact string `json:"lastContact"`
}

// PingResult is the response of POST /agent/{id}/status
type PingResult struct {
	Agent     AgentInfo        `json:"agent"`
	Databases []DatabaseStatus `json:"databases"`
}

// DatabaseStorage is one storage channel configured for a database.
// Config is provider-specific and decoded lazily by the provider.
type DatabaseStorage struct {
	ID       string         `json:"id"`
	Provider string         `json:"provider"`
	Config   map[string]any `json:"config"`
}

// DatabaseStatus is the desired state for one database
type DatabaseStatus struct {
	Dbms        string            `json:"dbms"`
	GeneratedID string            `json:"generatedId"`
	Storages    []DatabaseStorage `json:"storages"`
	Encrypt     bool              `json:"encrypt"`
	Data        DatabaseData      `json:"data"`
}

// DatabaseData groups the backup and restore directives
type DatabaseData struct {
	Backup  BackupDirective  `json:"backup"`
	Restore RestoreDirective `json:"restore"`
}

// BackupDirective carries the desired backup schedule
type BackupDirective struct {
	Action bool    `json:"action"`
	Cron   *string `json:"cron"`
}

// RestoreDirective carries a pending restore request
type RestoreDirective struct {
	Action   bool    `json:"action"`
	File     *string `json:"file"`
	MetaFile *string `json:"metaFile"`
}

// BackupCreateRequest is the body of POST /agent/{id}/backup
type BackupCreateRequest struct {
	Method      string `json:"method"`
	GeneratedID string `json:"generatedId"`
}

// BackupUpdateRequest is the body of PATCH /agent/{id}/backup
type BackupUpdateRequest struct {
	BackupID    string `json:"backupId"`
	GeneratedID string `json:"generatedId"`
	Status      string `json:"status"`
	Size        int64  `json:"size"`
}

// Backup identifies a backup record on the control plane
type Backup struct {
	ID string `json:"id"`
}

// BackupResponse is the response of backup create/update
type BackupResponse struct {
	Message string `json:"message"`
	Backup  Backup `json:"backup"`
}

// UploadInitRequest is the body of POST /agent/{id}/backup/upload/init
type UploadInitRequest struct {
	GeneratedID      string `json:"generatedId"`
	StorageChannelID string `json:"storageChannelId"`
	BackupID         string `json:"backupId"`
}

// UploadStatusRequest is the body of PATCH /agent/{id}/backup/upload/status
type UploadStatusRequest struct {
	GeneratedID     string `json:"generatedId"`
	BackupStorageID string `json:"backupStorageId"`
	BackupID        string `json:"backupId"`
	Status          string `json:"status"`
	Path            string `json:"path"`
	Size            int64  `json:"size"`
}

// BackupStorage identifies a per-storage upload record
type BackupStorage struct {
	ID string `json:"id"`
}

// UploadResponse is the response of upload init/status
type UploadResponse struct {
	Message       string        `json:"message"`
	BackupStorage BackupStorage `json:"backupStorage"`
}

// RestoreResultRequest is the body of POST /agent/{id}/restore
type RestoreResultRequest struct {
	GeneratedID string `json:"generatedId"`
	Status      string `json:"status"`
}
