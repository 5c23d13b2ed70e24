package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"

	FieldClientID   = "client_id"
	FieldInvoiceID  = "invoice_id"
	FieldInvoiceNo  = "invoice_number"
	FieldStart      = "start_date"
	FieldEnd        = "end_date"
	FieldSkipped    = "skipped_entries"
	FieldLineItems  = "line_items"
	FieldTotal      = "total"
	FieldCurrency   = "currency"
	FieldAttempts   = "attempts"
	FieldExportRef  = "export_ref"
	FieldBatchSize  = "batch_size"
	FieldBackend    = "backend"
)

// Component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentBilling   = "billing"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentExport    = "export"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
	ComponentCLI       = "cli"
)

const (
	OpCreate    = "create"
	OpRead      = "read"
	OpList      = "list"
	OpAggregate = "aggregate"
	OpCompute   = "compute"
	OpPublish   = "publish"
	OpExport    = "export"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields is a small builder for structured log attributes.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithPeriod adds the client and billing window being processed.
func (f LogFields) WithPeriod(clientID, start, end string) LogFields {
	f[FieldClientID] = clientID
	f[FieldStart] = start
	f[FieldEnd] = end
	return f
}

func (f LogFields) WithInvoice(id, number, total, currency string) LogFields {
	f[FieldInvoiceID] = id
	if number != "" {
		f[FieldInvoiceNo] = number
	}
	f[FieldTotal] = total
	f[FieldCurrency] = currency
	return f
}

// ToSlice flattens the fields into slog's key/value form.
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
