package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// DatasetType identifies the kind of data pulled from a portal view
type DatasetType string

const (
	DatasetTrips DatasetType = "trips" // Ride-hailing trip ledger
	DatasetTolls DatasetType = "tolls" // Toll passage records
	DatasetFuel  DatasetType = "fuel"  // Fuel card transactions
)

// EntityKind says which internal entity a dataset's identifier column maps to
type EntityKind string

const (
	EntityVehicle EntityKind = "vehicle" // Identifier is a licence plate
	EntityDriver  EntityKind = "driver"  // Identifier is a card/driver number
)

// ExportFormat identifies how a dataset leaves the portal
type ExportFormat string

const (
	ExportXLSX  ExportFormat = "xlsx"  // Modern spreadsheet binary
	ExportXLS   ExportFormat = "xls"   // Legacy spreadsheet binary
	ExportCSV   ExportFormat = "csv"   // Delimited text
	ExportTable ExportFormat = "table" // No file export; scrape the rendered table
)

// LocatorKind is the strategy used to find a UI element
type LocatorKind string

const (
	// LocatorCSS matches an exact, semantically-specific CSS selector
	LocatorCSS LocatorKind = "css"
	// LocatorXPath matches an XPath expression (used for text-content matching)
	LocatorXPath LocatorKind = "xpath"
	// LocatorFirstOfKind falls back to the first visible, actionable element
	// of the expected kind, e.g. "input[type=password]" or "button"
	LocatorFirstOfKind LocatorKind = "first_of_kind"
)

// Locator is one ranked strategy in a fallback chain
type Locator struct {
	Kind  LocatorKind `toml:"kind" json:"kind"`
	Value string      `toml:"value" json:"value"`
}

// UIAction names a logical interaction point on a portal.
// Each platform profile supplies its own ranked locator chain per action,
// so adding a platform needs no control-flow changes.
type UIAction string

const (
	ActionLoginIdentifier UIAction = "login_identifier"
	ActionLoginSecret     UIAction = "login_secret"
	ActionLoginPIN        UIAction = "login_pin"
	ActionLoginSubmit     UIAction = "login_submit"
	ActionOTPInput        UIAction = "otp_input"
	ActionOTPSubmit       UIAction = "otp_submit"
	ActionDateFrom        UIAction = "date_from"
	ActionDateTo          UIAction = "date_to"
	ActionApplyFilter     UIAction = "apply_filter"
	ActionExportMenu      UIAction = "export_menu"
	ActionExportOption    UIAction = "export_option"
	ActionOrgPicker       UIAction = "org_picker"
	ActionResultTable     UIAction = "result_table"
)

// SecondFactorConfig describes a platform's one-time-code step
type SecondFactorConfig struct {
	Required bool `toml:"required" json:"required"`
	// DigitInputs > 0 means the code is entered into N single-digit inputs,
	// distributed left-to-right. 0 means one combined input.
	DigitInputs int `toml:"digit_inputs" json:"digit_inputs"`
	// OTPSender is the mail sender address the code arrives from, when the
	// mailbox OTP source is configured. Empty means manual entry only.
	OTPSender string `toml:"otp_sender" json:"otp_sender"`
	// OTPPattern is a regexp with one capture group extracting the code
	OTPPattern string `toml:"otp_pattern" json:"otp_pattern"`
}

// DatasetConfig describes how one dataset is reached and exported
type DatasetConfig struct {
	// ViewURL is the deep link to the dataset view; empty means the view is
	// reached by clicking through MenuPath instead.
	ViewURL  string    `toml:"view_url" json:"view_url"`
	MenuPath []Locator `toml:"menu_path" json:"menu_path"`

	Export ExportFormat `toml:"export" json:"export" validate:"required,oneof=xlsx xls csv table"`

	// DateFormats are tried in order until the date control accepts one.
	// Acceptance is confirmed by reading the control's value back.
	DateFormats []string `toml:"date_formats" json:"date_formats"`

	// Columns is the documented column order for positional table scraping.
	// Logical names: date, identifier, quantity, amount, currency, txn_id.
	// "-" skips a cell.
	Columns []string `toml:"columns" json:"columns"`

	Kind EntityKind `toml:"kind" json:"kind" validate:"required,oneof=vehicle driver"`
}

// PlatformProfile identifies an external portal and carries everything the
// automation layer needs to drive it. Immutable configuration, created by
// operators, loaded from platforms/*.toml.
type PlatformProfile struct {
	Key  string `toml:"key" json:"key" validate:"required"`
	Name string `toml:"name" json:"name" validate:"required"`

	LoginURL string `toml:"login_url" json:"login_url" validate:"required,url"`
	// ProbeURL is an authenticated-only view used for session verification
	ProbeURL string `toml:"probe_url" json:"probe_url" validate:"required,url"`

	// LoginPathMarkers are URL substrings that indicate the login view;
	// landing on one of these after navigation means the session is stale.
	LoginPathMarkers []string `toml:"login_path_markers" json:"login_path_markers"`

	// AuthMarker is a selector present only when authenticated
	AuthMarker string `toml:"auth_marker" json:"auth_marker"`

	// ChallengeMarkers are page-content phrases or structural signals that
	// identify a bot-detection puzzle. Detection surfaces the challenge to a
	// human; it is never solved automatically.
	ChallengeMarkers []string `toml:"challenge_markers" json:"challenge_markers"`

	// ErrorBannerSelector locates an explicit login error banner whose text
	// is surfaced verbatim for operator diagnosis.
	ErrorBannerSelector string `toml:"error_banner_selector" json:"error_banner_selector"`

	SecondFactor SecondFactorConfig `toml:"second_factor" json:"second_factor"`

	Actions  map[UIAction][]Locator        `toml:"actions" json:"actions"`
	Datasets map[DatasetType]DatasetConfig `toml:"datasets" json:"datasets" validate:"required,min=1"`
}

// Validate validates the profile using go-playground/validator plus
// cross-field rules the tags cannot express.
func (p *PlatformProfile) Validate() error {
	validate := validator.New()
	if err := validate.Struct(p); err != nil {
		return err
	}

	for dataset, cfg := range p.Datasets {
		if cfg.ViewURL == "" && len(cfg.MenuPath) == 0 {
			return fmt.Errorf("platform %s dataset %s: needs view_url or menu_path", p.Key, dataset)
		}
		if cfg.Export == ExportTable && len(cfg.Columns) == 0 {
			return fmt.Errorf("platform %s dataset %s: table export needs a column order", p.Key, dataset)
		}
	}

	for _, action := range []UIAction{ActionLoginIdentifier, ActionLoginSecret, ActionLoginSubmit} {
		if len(p.Actions[action]) == 0 {
			return fmt.Errorf("platform %s: no locator chain for %s", p.Key, action)
		}
	}

	return nil
}

// Locators returns the ranked fallback chain for an action
func (p *PlatformProfile) Locators(action UIAction) []Locator {
	return p.Actions[action]
}
