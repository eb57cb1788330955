package types

import "context"

type patientScopeKey struct{}

// WithPatientScope binds a pipeline run's context to one patient. Retrieval
// paths use the scope to default namespaces and to refuse serving another
// patient's partition.
func WithPatientScope(ctx context.Context, patientID string) context.Context {
	return context.WithValue(ctx, patientScopeKey{}, patientID)
}

// PatientScope returns the patient the context is bound to, if any.
func PatientScope(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(patientScopeKey{}).(string)
	return id, ok && id != ""
}
