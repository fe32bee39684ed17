package internal

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Backend string

const (
	BackendReal Backend = "real"
	BackendMock Backend = "mock"
)

type PartyKind string

const (
	KindVendor   PartyKind = "거래처"
	KindDelivery PartyKind = "납품처"
)

type LineItem struct {
	ItemName      string          `json:"itemName"`
	Specification string          `json:"specification"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Remarks       string          `json:"remarks"`
}

// OrderRecord is one purchase-order row (or a group of rows once merged).
// IsValid always mirrors len(Errors) == 0; mutate Errors through SetErrors.
type OrderRecord struct {
	RowIndex       int        `json:"rowIndex"`
	OrderDate      string     `json:"orderDate"`
	DeliveryDate   string     `json:"deliveryDate"`
	VendorName     string     `json:"vendorName"`
	VendorEmail    string     `json:"vendorEmail"`
	DeliveryName   string     `json:"deliveryName"`
	DeliveryEmail  string     `json:"deliveryEmail"`
	ProjectName    string     `json:"projectName"`
	MajorCategory  string     `json:"majorCategory"`
	MiddleCategory string     `json:"middleCategory"`
	MinorCategory  string     `json:"minorCategory"`
	Items          []LineItem `json:"items"`
	IsValid        bool       `json:"isValid"`
	Errors         []string   `json:"errors"`
}

func (o *OrderRecord) SetErrors(errs []string) {
	if errs == nil {
		errs = []string{}
	}
	o.Errors = errs
	o.IsValid = len(errs) == 0
}

func (o OrderRecord) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.TotalAmount)
	}
	return total
}

// GroupKey identifies the purchase order a row belongs to.
func (o OrderRecord) GroupKey() string {
	return strings.Join([]string{
		strings.TrimSpace(o.VendorName),
		strings.TrimSpace(o.ProjectName),
		strings.TrimSpace(o.OrderDate),
	}, "\x1f")
}

type Vendor struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Kind          PartyKind `json:"kind"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	ContactPerson string    `json:"contactPerson"`
	Aliases       []string  `json:"aliases,omitempty"`
}

type Project struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

type VendorSuggestion struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	Phone         string  `json:"phone"`
	ContactPerson string  `json:"contactPerson"`
	Similarity    float64 `json:"similarity"`
	Distance      int     `json:"distance"`
}

type VendorMatchResult struct {
	VendorName  string             `json:"vendorName"`
	Kind        PartyKind          `json:"kind"`
	Exists      bool               `json:"exists"`
	ExactMatch  *Vendor            `json:"exactMatch,omitempty"`
	Suggestions []VendorSuggestion `json:"suggestions"`
	Degraded    bool               `json:"degraded"`
}

type ConflictType string

const (
	Conflict   ConflictType = "conflict"
	NoConflict ConflictType = "no_conflict"
)

type EmailConflict struct {
	Type       ConflictType `json:"type"`
	ExcelEmail string       `json:"excelEmail"`
	DBEmail    string       `json:"dbEmail"`
	VendorID   int64        `json:"vendorId"`
	VendorName string       `json:"vendorName"`
}

type MatchReport struct {
	Vendors        []VendorMatchResult `json:"vendors"`
	Deliveries     []VendorMatchResult `json:"deliveries"`
	EmailConflicts []EmailConflict     `json:"emailConflicts"`
	Degraded       bool                `json:"degraded"`
}

type HeaderMismatch struct {
	Index    int    `json:"index"`
	Actual   string `json:"actual"`
	Expected string `json:"expected"`
}

type ParseResult struct {
	Success     bool             `json:"success"`
	Orders      []OrderRecord    `json:"orders"`
	TotalOrders int              `json:"totalOrders"`
	TotalItems  int              `json:"totalItems"`
	Error       string           `json:"error,omitempty"`
	Code        ErrorCode        `json:"code,omitempty"`
	Mismatches  []HeaderMismatch `json:"mismatches,omitempty"`
}

type StructuralResult struct {
	Valid      bool             `json:"valid"`
	Errors     []string         `json:"errors"`
	SheetNames []string         `json:"sheetNames"`
	Mismatches []HeaderMismatch `json:"mismatches,omitempty"`
	// Code names the failure when it has a single cause.
	Code ErrorCode `json:"code,omitempty"`
}

type BusinessResult struct {
	Valid         bool     `json:"valid"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	TotalRows     int      `json:"totalRows"`
	ValidRows     int      `json:"validRows"`
	InvalidRows   int      `json:"invalidRows"`
	MissingFields []string `json:"missingFields"`
	Duplicates    int      `json:"duplicates"`
}

type ValidationReport struct {
	Valid      bool             `json:"isValid"`
	Errors     []string         `json:"errors"`
	Warnings   []string         `json:"warnings"`
	Structural StructuralResult `json:"structural"`
	Business   *BusinessResult  `json:"business,omitempty"`
}

type OrderFailure struct {
	RowIndex    int    `json:"rowIndex"`
	VendorName  string `json:"vendorName"`
	ProjectName string `json:"projectName"`
	Error       string `json:"error"`
}

type SavedOrder struct {
	RowIndex    int    `json:"rowIndex"`
	OrderID     int64  `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	VendorID    int64  `json:"vendorId"`
	ProjectID   int64  `json:"projectId"`
}

type PersistenceResult struct {
	Success         bool           `json:"success"`
	SavedOrders     int            `json:"savedOrders"`
	AttemptedOrders int            `json:"attemptedOrders"`
	Backend         Backend        `json:"backend"`
	Saved           []SavedOrder   `json:"saved"`
	Failures        []OrderFailure `json:"failures"`
	Error           string         `json:"error,omitempty"`
}

type ExtractionResult struct {
	Success         bool     `json:"success"`
	OutputPath      string   `json:"outputPath,omitempty"`
	ExtractedSheets []string `json:"extractedSheets"`
	MissingSheets   []string `json:"missingSheets"`
	// Warnings lists formula cells that could not be evaluated and were left blank.
	Warnings []string  `json:"warnings,omitempty"`
	Error    string    `json:"error,omitempty"`
	Code     ErrorCode `json:"code,omitempty"`
}

type ConversionResult struct {
	Success bool      `json:"success"`
	PDFPath string    `json:"pdfPath,omitempty"`
	Pages   int       `json:"pages"`
	Error   string    `json:"error,omitempty"`
	Code    ErrorCode `json:"code,omitempty"`
}

type DispatchResult struct {
	Success    bool      `json:"success"`
	MessageID  string    `json:"messageId,omitempty"`
	Simulated  bool      `json:"simulated"`
	Mode       string    `json:"mode"`
	Recipients []string  `json:"recipients"`
	Error      string    `json:"error,omitempty"`
	Code       ErrorCode `json:"code,omitempty"`
}

type RunState string

const (
	StateUploaded   RunState = "Uploaded"
	StateValidated  RunState = "Validated"
	StateParsed     RunState = "Parsed"
	StatePersisted  RunState = "Persisted"
	StateExtracted  RunState = "Extracted"
	StateConverted  RunState = "Converted"
	StateDispatched RunState = "Dispatched"
	StateCompleted  RunState = "Completed"
	StateAborted    RunState = "Aborted"
)

// Abort names the stage a run stopped in and why.
type Abort struct {
	Stage  RunState  `json:"stage"`
	Code   ErrorCode `json:"code"`
	Reason string    `json:"reason"`
}

// StageResults holds one entry per stage; nil means the stage did not run.
type StageResults struct {
	Validation *ValidationReport  `json:"validation"`
	Parsing    *ParseResult       `json:"parsing"`
	Matching   *MatchReport       `json:"matching"`
	Saving     *PersistenceResult `json:"saving"`
	Extraction *ExtractionResult  `json:"extraction"`
	PDF        *ConversionResult  `json:"pdf"`
	Email      *DispatchResult    `json:"email"`
}

type RunSummary struct {
	TotalOrders      int     `json:"totalOrders"`
	TotalItems       int     `json:"totalItems"`
	ValidationPassed bool    `json:"validationPassed"`
	SavedToDatabase  bool    `json:"savedToDatabase"`
	SheetsExtracted  bool    `json:"sheetsExtracted"`
	PDFGenerated     bool    `json:"pdfGenerated"`
	EmailSent        bool    `json:"emailSent"`
	Backend          Backend `json:"backend"`
}

type Environment struct {
	IsProduction bool   `json:"isProduction"`
	UsingMockDB  bool   `json:"usingMockDB"`
	MailMode     string `json:"mailMode,omitempty"`
}

type PipelineRunResult struct {
	Success     bool         `json:"success"`
	TraceID     string       `json:"traceId"`
	UploadID    string       `json:"uploadId,omitempty"`
	FileName    string       `json:"fileName"`
	State       RunState     `json:"state"`
	Aborted     *Abort       `json:"aborted,omitempty"`
	Environment Environment  `json:"environment"`
	Results     StageResults `json:"results"`
	Summary     RunSummary   `json:"summary"`
	Archived    []string     `json:"archived,omitempty"`
}
