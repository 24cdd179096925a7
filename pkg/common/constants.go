package common

import "net/http"

const (
	Shiftwatch       = "Shiftwatch"
	ShiftwatchTeam   = "Shiftwatch Team"
	StageDev         = "dev"
	StageStaging     = "staging"
	StageTest        = "test"
	ContentTypePlain = "text/plain"
	ContentTypeHTML  = "text/html; charset=utf-8"
	ContentTypeJSON  = "application/json"
	ContentTypeICal  = "text/calendar"
	ParamKey         = "key"
	ParamInput       = "input"
	ParamUser        = "user"
	ParamAction      = "action"
	All              = "all"
	LiveEndpoint     = "live"
	ReadyEndpoint    = "ready"
)

var (
	HeaderContentType   = http.CanonicalHeaderKey("Content-Type")
	HeaderContentLength = http.CanonicalHeaderKey("Content-Length")
	HeaderTraceID       = http.CanonicalHeaderKey("X-Trace-ID")
	HeaderCacheControl  = http.CanonicalHeaderKey("Cache-Control")
)
