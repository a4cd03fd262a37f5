package stationxml

import "fmt"

// Kind identifies a validation failure class. Kinds surface as
// structured values so the daemon and the intake handler can decide
// rejection versus abort without parsing message text.
type Kind string

const (
	KindSchemaInvalid            Kind = "SchemaInvalid"
	KindUnsupportedSchemaVersion Kind = "UnsupportedSchemaVersion"
	KindBadNetworkCode           Kind = "BadNetworkCode"
	KindBadStationCode           Kind = "BadStationCode"
	KindNoChannels               Kind = "NoChannels"
	KindBadSampleRate            Kind = "BadSampleRate"
	KindMissingResponse          Kind = "MissingResponse"
	KindDuplicateResponse        Kind = "DuplicateResponse"
	KindNoStages                 Kind = "NoStages"
	KindBadFIRUnits              Kind = "BadFIRUnits"
	KindBadFIRCoefficients       Kind = "BadFIRCoefficients"
	KindGainMismatch             Kind = "GainMismatch"
)

// ValidationError is the first failing rule of a document. The string
// form is what ends up in a rejected record's error field.
type ValidationError struct {
	Kind   Kind
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Detail)
}

func errKind(kind Kind) *ValidationError {
	return &ValidationError{Kind: kind}
}

func errDetail(kind Kind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
