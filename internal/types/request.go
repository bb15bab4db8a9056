package types

// RequestType classifies a remote call for logging and error context
type RequestType string

const (
	RequestTypeListOrSearch  RequestType = "ListOrSearch"
	RequestTypeGetByID       RequestType = "GetByID"
	RequestTypeMutation      RequestType = "Mutation"
	RequestTypeUpload        RequestType = "Upload"
	RequestTypeDownload      RequestType = "Download"
	RequestTypeChanges       RequestType = "Changes"
	RequestTypeAbout         RequestType = "About"
	RequestTypeDirResolution RequestType = "DirResolution"
)

// RequestContext carries per-request metadata through a remote call
type RequestContext struct {
	Profile           string      `json:"profile"`
	InvolvedFileIDs   []string    `json:"involvedFileIds"`
	InvolvedParentIDs []string    `json:"involvedParentIds"`
	RequestType       RequestType `json:"requestType"`
	TraceID           string      `json:"traceId"`
}

// CLIError is the serializable form of an application error
type CLIError struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	HTTPStatus  int                    `json:"httpStatus,omitempty"`
	DriveReason string                 `json:"driveReason,omitempty"`
	Retryable   bool                   `json:"retryable"`
	Context     map[string]interface{} `json:"context,omitempty"`
}
