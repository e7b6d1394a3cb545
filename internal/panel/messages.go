// Package panel implements the message contract between a file-explorer
// front-end and the remote session: newline-delimited JSON requests in,
// newline-delimited JSON events out.
package panel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/houzin/scp-explorer/internal/profiles"
	"github.com/houzin/scp-explorer/internal/remote"
)

// MessageType identifies a request or an event.
type MessageType string

const (
	// Request types (front-end -> server)
	MsgConnect          MessageType = "connect"
	MsgListFiles        MessageType = "listFiles"
	MsgListLocalFiles   MessageType = "listLocalFiles"
	MsgCreateFolder     MessageType = "createFolder"
	MsgDelete           MessageType = "delete"
	MsgRename           MessageType = "rename"
	MsgUpload           MessageType = "upload"
	MsgDownload         MessageType = "download"
	MsgCancelTransfer   MessageType = "cancelTransfer"
	MsgDisconnect       MessageType = "disconnect"
	MsgHeartbeat        MessageType = "heartbeat"
	MsgSetHeartbeat     MessageType = "setHeartbeat"
	MsgSwitchClient     MessageType = "switchClient"
	MsgSaveConnection   MessageType = "saveConnection"
	MsgUpdateConnection MessageType = "updateConnection"
	MsgDeleteConnection MessageType = "deleteConnection"
	MsgListConnections  MessageType = "listConnections"
	MsgLog              MessageType = "log"

	// Event types (server -> front-end)
	MsgConnected            MessageType = "connected"
	MsgFileList             MessageType = "fileList"
	MsgLocalFileList        MessageType = "localFileList"
	MsgFolderCreated        MessageType = "folderCreated"
	MsgDeleted              MessageType = "deleted"
	MsgRenamed              MessageType = "renamed"
	MsgTransferProgress     MessageType = "transferProgress"
	MsgTransferComplete     MessageType = "transferComplete"
	MsgTransferCancelled    MessageType = "transferCancelled"
	MsgSuccess              MessageType = "success"
	MsgError                MessageType = "error"
	MsgWarning              MessageType = "warning"
	MsgDisconnected         MessageType = "disconnected"
	MsgHeartbeatOK          MessageType = "heartbeatOk"
	MsgHeartbeatFail        MessageType = "heartbeatFail"
	MsgHeartbeatStatus      MessageType = "heartbeatStatus"
	MsgSubsystemUnavailable MessageType = "subsystemUnavailable"
	MsgConfirmInsecureKey   MessageType = "confirmInsecureKey"
	MsgSavedConnections     MessageType = "savedConnections"
)

// Port accepts a JSON number or string; front-ends send either.
type Port string

// UnmarshalJSON implements json.Unmarshaler.
func (p *Port) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Port(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid port: %s", data)
	}
	*p = Port(n.String())
	return nil
}

// Int returns the numeric port, or 0 when empty.
func (p Port) Int() (int, error) {
	if p == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(string(p))
	if err != nil {
		return 0, remote.ConfigErrorf("Invalid port: %s", string(p))
	}
	return n, nil
}

// ConnectData carries the connection fields of a connect request. They
// may be sent at the top level or nested under "data".
type ConnectData struct {
	Host     string `json:"host,omitempty"`
	Port     Port   `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	AuthType string `json:"authType,omitempty"`
	// Kind is the nested form's name for AuthType.
	Kind           string `json:"type,omitempty"`
	Password       string `json:"password,omitempty"`
	PrivateKeyPath string `json:"privateKeyPath,omitempty"`
	Passphrase     string `json:"passphrase,omitempty"`
	ClientType     string `json:"clientType,omitempty"`
	// AcceptInsecureKey confirms a key file with open permissions.
	AcceptInsecureKey bool `json:"acceptInsecureKey,omitempty"`
	// Profile names a saved connection (id or name) to connect with.
	Profile string `json:"profile,omitempty"`
}

// RemoteConfig converts the fields into a connection config.
func (d ConnectData) RemoteConfig() (remote.Config, error) {
	port, err := d.Port.Int()
	if err != nil {
		return remote.Config{}, err
	}
	auth := d.AuthType
	if auth == "" {
		auth = d.Kind
	}
	cfg := remote.Config{
		Host:              strings.TrimSpace(d.Host),
		Port:              port,
		Username:          strings.TrimSpace(d.Username),
		AuthType:          remote.AuthMethod(auth),
		Password:          d.Password,
		PrivateKeyPath:    d.PrivateKeyPath,
		Passphrase:        d.Passphrase,
		AcceptInsecureKey: d.AcceptInsecureKey,
	}
	if d.ClientType != "" {
		kind, err := remote.ParseClientType(d.ClientType)
		if err != nil {
			return cfg, err
		}
		cfg.ClientType = kind
	}
	return cfg, nil
}

// Request is one message from the front-end. Only the fields of its Type
// are meaningful.
type Request struct {
	Type MessageType `json:"type"`

	ConnectData
	Data *ConnectData `json:"data,omitempty"`

	Path        string   `json:"path,omitempty"`
	FolderName  string   `json:"folderName,omitempty"`
	IsLocal     bool     `json:"isLocal,omitempty"`
	IsDirectory bool     `json:"isDirectory,omitempty"`
	OldPath     string   `json:"oldPath,omitempty"`
	NewPath     string   `json:"newPath,omitempty"`
	LocalPaths  []string `json:"localPaths,omitempty"`
	RemotePath  string   `json:"remotePath,omitempty"`
	RemotePaths []string `json:"remotePaths,omitempty"`
	LocalPath   string   `json:"localPath,omitempty"`
	Enabled     *bool    `json:"enabled,omitempty"`
	Message     string   `json:"message,omitempty"`

	Connection *profiles.Connection `json:"connection,omitempty"`
	ID         string               `json:"id,omitempty"`
}

// Connect returns the connection fields, preferring the nested form.
func (r *Request) Connect() ConnectData {
	if r.Data != nil {
		return *r.Data
	}
	return r.ConnectData
}

// Event is one message to the front-end. Pointer fields are set only when
// a zero value must still be sent.
type Event struct {
	Type MessageType `json:"type"`

	Message    string          `json:"message,omitempty"`
	ClientType string          `json:"clientType,omitempty"`
	Path       string          `json:"path,omitempty"`
	Mode       string          `json:"mode,omitempty"`
	Files      *[]remote.Entry `json:"files,omitempty"`
	IsLocal    *bool           `json:"isLocal,omitempty"`
	Enabled    *bool           `json:"enabled,omitempty"`

	FileName  string   `json:"fileName,omitempty"`
	Progress  *float64 `json:"progress,omitempty"`
	Direction string   `json:"direction,omitempty"`

	Failures int `json:"failures,omitempty"`

	Connections     *[]profiles.Connection `json:"connections,omitempty"`
	SavedConnection *profiles.Connection   `json:"savedConnection,omitempty"`
	Success         bool                   `json:"success,omitempty"`
	IsUpdate        bool                   `json:"isUpdate,omitempty"`
	IsDelete        bool                   `json:"isDelete,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// NewConnectedEvent reports the client type actually in use.
func NewConnectedEvent(kind remote.ClientType) Event {
	return Event{Type: MsgConnected, ClientType: string(kind)}
}

// NewFileListEvent carries a remote listing and the path actually listed.
func NewFileListEvent(files []remote.Entry, path string) Event {
	if files == nil {
		files = []remote.Entry{}
	}
	return Event{Type: MsgFileList, Files: &files, Path: path}
}

// NewLocalFileListEvent carries a local listing.
func NewLocalFileListEvent(files []remote.Entry, path string) Event {
	if files == nil {
		files = []remote.Entry{}
	}
	return Event{Type: MsgLocalFileList, Files: &files, Path: path}
}

// NewSideEvent builds folderCreated, deleted and renamed events.
func NewSideEvent(t MessageType, isLocal bool) Event {
	return Event{Type: t, IsLocal: boolPtr(isLocal)}
}

// NewProgressEvent relays one transfer progress report.
func NewProgressEvent(fileName string, progress float64, direction string) Event {
	return Event{Type: MsgTransferProgress, FileName: fileName, Progress: &progress, Direction: direction}
}

// NewDirectionEvent builds transferComplete and transferCancelled events.
func NewDirectionEvent(t MessageType, direction string) Event {
	return Event{Type: t, Direction: direction}
}

// NewMessageEvent builds error, warning, success and subsystemUnavailable events.
func NewMessageEvent(t MessageType, message string) Event {
	return Event{Type: t, Message: message}
}

// NewHeartbeatStatusEvent reports whether the server-side probe is enabled.
func NewHeartbeatStatusEvent(enabled bool) Event {
	return Event{Type: MsgHeartbeatStatus, Enabled: boolPtr(enabled)}
}

// NewConfirmInsecureKeyEvent asks the user to accept a key file with open
// permissions.
func NewConfirmInsecureKeyEvent(e *remote.InsecureKeyError) Event {
	return Event{
		Type:    MsgConfirmInsecureKey,
		Message: strings.TrimPrefix(e.Error(), remote.WarningPrefix),
		Path:    e.Path,
		Mode:    fmt.Sprintf("%04o", e.Mode.Perm()),
	}
}

// NewSavedConnectionsEvent carries the saved connection list.
func NewSavedConnectionsEvent(conns []profiles.Connection) Event {
	if conns == nil {
		conns = []profiles.Connection{}
	}
	return Event{Type: MsgSavedConnections, Connections: &conns}
}

// Encode serializes an event to one JSON line without the newline.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeRequest deserializes a request from JSON.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if req.Type == "" {
		return nil, fmt.Errorf("request has no type")
	}
	return &req, nil
}
