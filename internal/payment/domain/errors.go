package domain

import "errors"

var (
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrTransactionNotFound = errors.New("transaction_not_found")
	ErrForbidden           = errors.New("forbidden")

	// Duplicate-payment guards. The two conflicts carry distinct messages so
	// a student knows whether to pay again or finish the pending attempt.
	ErrAlreadyPaid       = errors.New("course_already_paid")
	ErrPaymentInProgress = errors.New("payment_in_progress")
	ErrAlreadyEnrolled   = errors.New("already_enrolled")

	// Second-installment legality.
	ErrNotInstallmentPlan     = errors.New("not_installment_plan")
	ErrFirstInstallmentUnpaid = errors.New("first_installment_unpaid")
	ErrPaymentAlreadySettled  = errors.New("payment_already_settled")

	ErrInvalidTransition = errors.New("invalid_transition")
	ErrNonTerminalStatus = errors.New("non_terminal_status")

	ErrInvalidPlan           = errors.New("invalid_plan")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrInvalidID             = errors.New("invalid_id")
	ErrInvalidReference      = errors.New("invalid_reference")
	ErrInvalidPage           = errors.New("invalid_page")
)
