// Package errors provides structured domain errors with gRPC status mapping.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Contract errors
	CodeContractTitleEmpty        Code = "CONTRACT_TITLE_EMPTY"
	CodeContractClientMissing     Code = "CONTRACT_CLIENT_MISSING"
	CodeContractInvalidBudget     Code = "CONTRACT_INVALID_BUDGET"
	CodeContractInvalidDeadline   Code = "CONTRACT_INVALID_DEADLINE"
	CodeContractInvalidTransition Code = "CONTRACT_INVALID_TRANSITION"
	CodeContractAlreadyAssigned   Code = "CONTRACT_ALREADY_ASSIGNED"

	// Proposal errors
	CodeProposalEmptyContractID   Code = "PROPOSAL_EMPTY_CONTRACT_ID"
	CodeProposalEmptySpecialistID Code = "PROPOSAL_EMPTY_SPECIALIST_ID"
	CodeProposalInvalidPrice      Code = "PROPOSAL_INVALID_PRICE"
	CodeProposalDuplicate         Code = "PROPOSAL_DUPLICATE"
	CodeProposalNotPending        Code = "PROPOSAL_NOT_PENDING"
	CodeProposalWrongContract     Code = "PROPOSAL_WRONG_CONTRACT"
	CodeProposalNotOwned          Code = "PROPOSAL_NOT_OWNED"
	CodeProposalRateLimited       Code = "PROPOSAL_RATE_LIMITED"

	// Escrow errors
	CodeEscrowInvalidAmount     Code = "ESCROW_INVALID_AMOUNT"
	CodeEscrowInvalidTransition Code = "ESCROW_INVALID_TRANSITION"
	CodeEscrowActiveExists      Code = "ESCROW_ACTIVE_EXISTS"

	// Dispute errors
	CodeDisputeInvalidOutcome  Code = "DISPUTE_INVALID_OUTCOME"
	CodeDisputeAlreadyResolved Code = "DISPUTE_ALREADY_RESOLVED"

	// Authorization errors
	CodePermissionDenied    Code = "PERMISSION_DENIED"
	CodeAdminGrantInvalid   Code = "ADMIN_GRANT_INVALID"
	CodeAdminGrantExpired   Code = "ADMIN_GRANT_EXPIRED"
	CodeActorSuspended      Code = "ACTOR_SUSPENDED"
	CodeActorUnknown        Code = "ACTOR_UNKNOWN"

	// Directory errors
	CodeDirectoryInvalidRole Code = "DIRECTORY_INVALID_ROLE"
	CodeDirectoryEmptyName   Code = "DIRECTORY_EMPTY_NAME"

	// Audit errors
	CodeAuditInvalidFilter Code = "AUDIT_INVALID_FILTER"
	CodeAuditInvalidRange  Code = "AUDIT_INVALID_RANGE"

	// Storage errors
	CodeNotFound           Code = "NOT_FOUND"
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeContractTitleEmpty,
		CodeContractClientMissing,
		CodeContractInvalidBudget,
		CodeContractInvalidDeadline,
		CodeProposalEmptyContractID,
		CodeProposalEmptySpecialistID,
		CodeProposalInvalidPrice,
		CodeProposalWrongContract,
		CodeEscrowInvalidAmount,
		CodeDisputeInvalidOutcome,
		CodeDirectoryInvalidRole,
		CodeDirectoryEmptyName,
		CodeAuditInvalidFilter,
		CodeAuditInvalidRange:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeContractInvalidTransition,
		CodeEscrowInvalidTransition,
		CodeProposalNotPending,
		CodeActorSuspended,
		CodeAdminGrantExpired:
		return codes.FailedPrecondition

	// Aborted - concurrent-modification guard tripped
	case CodeContractAlreadyAssigned,
		CodeDisputeAlreadyResolved:
		return codes.Aborted

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeActorUnknown:
		return codes.NotFound

	// AlreadyExists - uniqueness constraint
	case CodeProposalDuplicate,
		CodeEscrowActiveExists:
		return codes.AlreadyExists

	// PermissionDenied - caller lacks the required role
	case CodePermissionDenied,
		CodeAdminGrantInvalid,
		CodeProposalNotOwned:
		return codes.PermissionDenied

	// ResourceExhausted - throttled
	case CodeProposalRateLimited:
		return codes.ResourceExhausted

	// Unavailable - persistence substrate failure
	case CodePersistenceFailure:
		return codes.Unavailable

	default:
		return codes.Internal
	}
}
