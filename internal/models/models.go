// Package models holds the entity shapes shared across every PureTrack
// component: devices, readings, alerts, reports, and the verified principal
// handed down by upstream authentication middleware.
package models

import "time"

// DeviceStatus is the online/offline presence of a registered sensor node.
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
)

// RegistrationStatus tracks a device's approval lifecycle.
type RegistrationStatus string

const (
	RegistrationPending    RegistrationStatus = "pending"
	RegistrationRegistered RegistrationStatus = "registered"
)

// Location is free-form placement metadata for a device.
type Location struct {
	Building string `json:"building,omitempty"`
	Floor    string `json:"floor,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Device is one physical sensor node.
type Device struct {
	ID                           string             `json:"id"`
	DeviceID                     string             `json:"deviceId"`
	Name                         string             `json:"name"`
	Type                         string             `json:"type"`
	FirmwareVersion              string             `json:"firmwareVersion,omitempty"`
	MACAddress                   string             `json:"macAddress,omitempty"`
	IPAddress                    string             `json:"ipAddress,omitempty"`
	Sensors                      []string           `json:"sensors,omitempty"`
	Location                     Location           `json:"location"`
	Status                       DeviceStatus       `json:"status"`
	RegistrationStatus           RegistrationStatus `json:"registrationStatus"`
	IsRegistered                 bool               `json:"isRegistered"`
	RegisteredAt                 *time.Time         `json:"registeredAt,omitempty"`
	LastSeen                     *time.Time         `json:"lastSeen,omitempty"`
	CreatedAt                    time.Time          `json:"createdAt"`
	UpdatedAt                    time.Time          `json:"updatedAt"`
	IsDeleted                    bool               `json:"isDeleted"`
	DeletedAt                    *time.Time         `json:"deletedAt,omitempty"`
	ScheduledPermanentDeletionAt *time.Time         `json:"scheduledPermanentDeletionAt,omitempty"`
}

// Channel enumerates the per-sample sensor parameters PureTrack understands.
type Channel string

const (
	ChannelPH        Channel = "pH"
	ChannelTurbidity Channel = "turbidity"
	ChannelTDS       Channel = "tds"
)

// AllChannels lists every evaluated channel, in a stable order.
var AllChannels = []Channel{ChannelPH, ChannelTurbidity, ChannelTDS}

// Reading is one sample from one device.
type Reading struct {
	ID           string     `json:"id"`
	DeviceID     string     `json:"deviceId"`
	Timestamp    time.Time  `json:"timestamp"`
	PH           *float64   `json:"pH,omitempty"`
	PHValid      bool       `json:"pH_valid"`
	Turbidity    *float64   `json:"turbidity,omitempty"`
	TurbidValid  bool       `json:"turbidity_valid"`
	TDS          *float64   `json:"tds,omitempty"`
	TDSValid     bool       `json:"tds_valid"`
	CreatedAt    time.Time  `json:"createdAt"`
	IsDeleted    bool       `json:"isDeleted"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
}

// Value returns the reading's value and validity for the given channel.
func (r *Reading) Value(ch Channel) (value float64, valid bool) {
	switch ch {
	case ChannelPH:
		if r.PH != nil && r.PHValid {
			return *r.PH, true
		}
	case ChannelTurbidity:
		if r.Turbidity != nil && r.TurbidValid {
			return *r.Turbidity, true
		}
	case ChannelTDS:
		if r.TDS != nil && r.TDSValid {
			return *r.TDS, true
		}
	}
	return 0, false
}

// Severity is the escalation level of a crossed threshold.
type Severity string

const (
	SeverityAdvisory Severity = "advisory"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for "pick the highest crossed" comparisons.
var severityRank = map[Severity]int{
	SeverityAdvisory: 1,
	SeverityWarning:  2,
	SeverityCritical: 3,
}

// Higher reports whether a outranks b.
func (a Severity) Higher(b Severity) bool { return severityRank[a] > severityRank[b] }

// AlertStatus is the lifecycle stage of an alert.
type AlertStatus string

const (
	AlertUnacknowledged AlertStatus = "unacknowledged"
	AlertAcknowledged   AlertStatus = "acknowledged"
	AlertResolved       AlertStatus = "resolved"
)

// Alert is one open or historical incident for one parameter on one device.
type Alert struct {
	ID               string      `json:"id"`
	DeviceID         string      `json:"deviceId"`
	Parameter        Channel     `json:"parameter"`
	Severity         Severity    `json:"severity"`
	Value            float64     `json:"value"`
	Threshold        float64     `json:"threshold"`
	CurrentValue     float64     `json:"currentValue"`
	Message          string      `json:"message"`
	Status           AlertStatus `json:"status"`
	Acknowledged     bool        `json:"acknowledged"`
	AcknowledgedAt   *time.Time  `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy   string      `json:"acknowledgedBy,omitempty"`
	ResolvedAt       *time.Time  `json:"resolvedAt,omitempty"`
	ResolvedBy       string      `json:"resolvedBy,omitempty"`
	ResolutionNotes  string      `json:"resolutionNotes,omitempty"`
	OccurrenceCount  int         `json:"occurrenceCount"`
	FirstOccurrence  time.Time   `json:"firstOccurrence"`
	LastOccurrence   time.Time   `json:"lastOccurrence"`
	EmailSent        bool        `json:"emailSent"`
	CreatedAt        time.Time  `json:"createdAt"`
	// DedupWindow is the cooldown-sized time bucket createdAt falls into,
	// computed at insert time by pkg/alerts. It backs the storage-level
	// open-alert uniqueness guard and carries no meaning to API consumers.
	DedupWindow int64      `json:"-"`
	IsDeleted   bool       `json:"isDeleted"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// ReportStatus is the lifecycle stage of a report artifact.
type ReportStatus string

const (
	ReportGenerating ReportStatus = "generating"
	ReportCompleted  ReportStatus = "completed"
	ReportFailed     ReportStatus = "failed"
)

// ReportFormat is the rendered artifact's encoding.
type ReportFormat string

const (
	FormatPDF  ReportFormat = "pdf"
	FormatCSV  ReportFormat = "csv"
	FormatXLSX ReportFormat = "xlsx"
)

// ReportFile describes a stored artifact handle.
type ReportFile struct {
	Handle      string `json:"handle"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// Report is an asynchronously produced artifact bound to a user.
type Report struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description,omitempty"`
	Status       ReportStatus           `json:"status"`
	Format       ReportFormat           `json:"format"`
	Parameters   map[string]interface{} `json:"parameters"`
	File         *ReportFile            `json:"file,omitempty"`
	GeneratedBy  string                 `json:"generatedBy"`
	GeneratedAt  *time.Time             `json:"generatedAt,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	ExpiresAt    time.Time              `json:"expiresAt"`
}

// Role is a verified principal's authorization level.
type Role string

const (
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

// Principal is the verified caller identity handed to handlers by upstream
// authentication middleware. PureTrack never constructs or authenticates
// one itself; issuing and verifying credentials is left to that upstream
// layer.
type Principal struct {
	UserID string
	Role   Role
}

// HasRole reports whether the principal satisfies the required role, with
// admin satisfying staff-level requirements.
func (p Principal) HasRole(required Role) bool {
	if required == RoleStaff {
		return p.Role == RoleStaff || p.Role == RoleAdmin
	}
	return p.Role == required
}
