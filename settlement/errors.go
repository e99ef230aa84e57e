package settlement

import "errors"

// Kind groups failures by the precondition they violate
type Kind uint8

const (
	KindAuthorization Kind = iota + 1
	KindState
	KindValue
	KindEnvelope
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindValue:
		return "value"
	case KindEnvelope:
		return "envelope"
	default:
		return "unknown"
	}
}

// Error is a rejection of a ledger operation. ID and Code are stable and are
// what clients and indexers match on.
type Error struct {
	Kind   Kind
	ID     string
	Code   uint32
	Reason string
}

func (e *Error) Error() string {
	return e.ID + ": " + e.Reason
}

// Result codes 0 and 1 are reserved by the node for success and undecodable input.
var (
	ErrInvalidTx = &Error{Kind: KindEnvelope, ID: "InvalidTx", Code: 2, Reason: "malformed or unsigned transaction"}
	ErrBadNonce  = &Error{Kind: KindEnvelope, ID: "BadNonce", Code: 3, Reason: "transaction nonce does not match account nonce"}

	ErrImprecisePayment     = &Error{Kind: KindValue, ID: "ImprecisePayment", Code: 10, Reason: "we accept only full payments"}
	ErrAlreadyPurchased     = &Error{Kind: KindState, ID: "AlreadyPurchased", Code: 11, Reason: "this item is already purchased"}
	ErrUnauthorizedCallback = &Error{Kind: KindAuthorization, ID: "UnauthorizedCallback", Code: 12, Reason: "only the item's settlement unit can call this function"}
	ErrAlreadyPaid          = &Error{Kind: KindState, ID: "AlreadyPaid", Code: 13, Reason: "this item is already paid for"}
	ErrNotPaid              = &Error{Kind: KindState, ID: "NotPaid", Code: 14, Reason: "this item is not paid for"}
	ErrUnauthorized         = &Error{Kind: KindAuthorization, ID: "Unauthorized", Code: 15, Reason: "caller is not the registry owner"}
	ErrUnknownItem          = &Error{Kind: KindState, ID: "UnknownItem", Code: 16, Reason: "no catalogue entry at this index"}
	ErrUnknownRegistry      = &Error{Kind: KindState, ID: "UnknownRegistry", Code: 17, Reason: "no registry at this address"}
	ErrInsufficientBalance  = &Error{Kind: KindValue, ID: "InsufficientBalance", Code: 18, Reason: "balance too low for transfer"}
	ErrNotPayable           = &Error{Kind: KindValue, ID: "NotPayable", Code: 19, Reason: "registry does not accept direct transfers"}
	ErrAddressCollision     = &Error{Kind: KindState, ID: "AddressCollision", Code: 20, Reason: "predicted address is already in use"}
)

var allErrors = []*Error{
	ErrInvalidTx, ErrBadNonce,
	ErrImprecisePayment, ErrAlreadyPurchased, ErrUnauthorizedCallback, ErrAlreadyPaid,
	ErrNotPaid, ErrUnauthorized, ErrUnknownItem, ErrUnknownRegistry,
	ErrInsufficientBalance, ErrNotPayable, ErrAddressCollision,
}

// AsError extracts the ledger error wrapped in err, if any
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the result code for err: 0 for nil, 1 for errors that did not
// originate in the ledger.
func CodeOf(err error) uint32 {
	if err == nil {
		return 0
	}
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return 1
}

// ErrorByCode maps a result code back to its ledger error
func ErrorByCode(code uint32) (*Error, bool) {
	for _, e := range allErrors {
		if e.Code == code {
			return e, true
		}
	}
	return nil, false
}
