// Package access decides which database handle a request runs on.
//
// Every route is classified into an OperationKind. The kind's Rule says which
// credential the operation needs and what happens when a caller-scoped handle
// cannot be built. The Resolver applies the rule.
package access

import "fmt"

// OperationKind classifies what a route does with data.
type OperationKind string

const (
	// KindOwnedData reads or writes rows owned by the caller: profile, check-ins,
	// garden, coin ledger, friendships, stats.
	KindOwnedData OperationKind = "owned-data"
	// KindPublicRead reads shared data: challenge catalog, leaderboards, search.
	KindPublicRead OperationKind = "public-read"
	// KindAdminRepair runs maintenance across all users.
	KindAdminRepair OperationKind = "admin-repair"
)

// Credential is the kind of handle an operation requires.
type Credential string

const (
	CredentialScoped     Credential = "scoped"
	CredentialPublicRead Credential = "public-read"
	CredentialAdminOnly  Credential = "admin-only"
)

// Fallback says what to do when the preferred handle cannot be built.
type Fallback string

const (
	FallbackAdmin  Fallback = "admin-fallback"
	FallbackReject Fallback = "reject"
)

// Rule is one row of the policy table.
type Rule struct {
	Kind            OperationKind
	Required        Credential
	OnScopedFailure Fallback
}

// RequiresIdentity reports whether the operation is refused to anonymous callers.
func (r Rule) RequiresIdentity() bool {
	return r.Required == CredentialScoped || r.Required == CredentialAdminOnly
}

var policy = map[OperationKind]Rule{
	KindOwnedData: {
		Kind:            KindOwnedData,
		Required:        CredentialScoped,
		OnScopedFailure: FallbackAdmin,
	},
	KindPublicRead: {
		Kind:            KindPublicRead,
		Required:        CredentialPublicRead,
		OnScopedFailure: FallbackAdmin,
	},
	KindAdminRepair: {
		Kind:            KindAdminRepair,
		Required:        CredentialAdminOnly,
		OnScopedFailure: FallbackReject,
	},
}

// Classify returns the rule for kind. Unknown kinds are an error: a route
// must be classified before it is wired.
func Classify(kind OperationKind) (Rule, error) {
	rule, ok := policy[kind]
	if !ok {
		return Rule{}, &ConfigurationError{Kind: kind, Err: fmt.Errorf("unclassified operation kind %q", kind)}
	}
	return rule, nil
}

// Kinds lists every classified kind.
func Kinds() []OperationKind {
	return []OperationKind{KindOwnedData, KindPublicRead, KindAdminRepair}
}
