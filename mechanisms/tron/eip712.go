package tron

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/open-aibank/x402-tron"
)

// PermitPrimaryType is the EIP-712 primary type of the permit scheme.
const PermitPrimaryType = "PaymentPermit"

// TransferAuthPrimaryType is the EIP-712 primary type of the native_exact
// scheme.
const TransferAuthPrimaryType = "TransferWithAuthorization"

// HashTypedData computes the EIP-712 digest
// keccak256("\x19\x01" || domainSeparator || structHash).
//
// The EIP712Domain type is derived from the domain itself: a domain with an
// empty Version hashes without the version field, matching contracts that
// declare EIP712Domain(string name,uint256 chainId,address verifyingContract).
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		domainFields := []apitypes.Type{{Name: "name", Type: "string"}}
		if domain.Version != "" {
			domainFields = append(domainFields, apitypes.Type{Name: "version", Type: "string"})
		}
		domainFields = append(domainFields,
			apitypes.Type{Name: "chainId", Type: "uint256"},
			apitypes.Type{Name: "verifyingContract", Type: "address"},
		)
		typedData.Types["EIP712Domain"] = domainFields
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// PermitTypes returns the EIP-712 type set of the PaymentPermit struct. The
// field order matches the deployed contract and must not change.
func PermitTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"PermitMeta": {
			{Name: "kind", Type: "uint8"},
			{Name: "paymentId", Type: "bytes16"},
			{Name: "nonce", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
		},
		"Payment": {
			{Name: "payToken", Type: "address"},
			{Name: "maxPayAmount", Type: "uint256"},
			{Name: "payTo", Type: "address"},
		},
		"Fee": {
			{Name: "feeTo", Type: "address"},
			{Name: "feeAmount", Type: "uint256"},
		},
		"Delivery": {
			{Name: "receiveToken", Type: "address"},
			{Name: "miniReceiveAmount", Type: "uint256"},
			{Name: "tokenId", Type: "uint256"},
		},
		"PaymentPermit": {
			{Name: "meta", Type: "PermitMeta"},
			{Name: "buyer", Type: "address"},
			{Name: "caller", Type: "address"},
			{Name: "payment", Type: "Payment"},
			{Name: "fee", Type: "Fee"},
			{Name: "delivery", Type: "Delivery"},
		},
	}
}

// PermitDomain returns the permit scheme's EIP-712 domain for a network. The
// PaymentPermit contract declares its domain without a version field.
func PermitDomain(network x402.Network) (TypedDataDomain, error) {
	chainID, err := ChainID(network)
	if err != nil {
		return TypedDataDomain{}, err
	}
	verifying, err := ToEVMHex(PaymentPermitAddress(network))
	if err != nil {
		return TypedDataDomain{}, err
	}
	return TypedDataDomain{
		Name:              "PaymentPermit",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: verifying,
	}, nil
}

// TransferAuthTypes returns the EIP-712 type set of the native_exact scheme.
func TransferAuthTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		TransferAuthPrimaryType: {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}

// TransferAuthDomain returns the per-token domain of the native_exact
// scheme: the token contract itself is the verifying contract.
func TransferAuthDomain(network x402.Network, tokenAddress, tokenName, tokenVersion string) (TypedDataDomain, error) {
	chainID, err := ChainID(network)
	if err != nil {
		return TypedDataDomain{}, err
	}
	verifying, err := ToEVMHex(tokenAddress)
	if err != nil {
		return TypedDataDomain{}, err
	}
	return TypedDataDomain{
		Name:              tokenName,
		Version:           tokenVersion,
		ChainID:           big.NewInt(chainID),
		VerifyingContract: verifying,
	}, nil
}

// EncodePermitMessage converts a wire permit into the EIP-712 message map.
// Addresses become EVM hex, the kind becomes its numeric code and the
// payment id becomes a 16-byte value.
func EncodePermitMessage(permit x402.PaymentPermit) (map[string]interface{}, error) {
	buyer, err := ToEVMHex(permit.Buyer)
	if err != nil {
		return nil, &x402.EncodingError{Field: "buyer", Value: permit.Buyer, Err: err}
	}
	caller, err := ToEVMHex(permit.Caller)
	if err != nil {
		return nil, &x402.EncodingError{Field: "caller", Value: permit.Caller, Err: err}
	}
	payToken, err := ToEVMHex(permit.Payment.PayToken)
	if err != nil {
		return nil, &x402.EncodingError{Field: "payToken", Value: permit.Payment.PayToken, Err: err}
	}
	payTo, err := ToEVMHex(permit.Payment.PayTo)
	if err != nil {
		return nil, &x402.EncodingError{Field: "payTo", Value: permit.Payment.PayTo, Err: err}
	}
	feeTo, err := ToEVMHex(permit.Fee.FeeTo)
	if err != nil {
		return nil, &x402.EncodingError{Field: "feeTo", Value: permit.Fee.FeeTo, Err: err}
	}
	receiveToken, err := ToEVMHex(permit.Delivery.ReceiveToken)
	if err != nil {
		return nil, &x402.EncodingError{Field: "receiveToken", Value: permit.Delivery.ReceiveToken, Err: err}
	}

	paymentID, err := PaymentIDBytes(permit.Meta.PaymentID)
	if err != nil {
		return nil, err
	}

	nonce, err := parseUint256("nonce", permit.Meta.Nonce)
	if err != nil {
		return nil, err
	}
	maxPayAmount, err := parseUint256("maxPayAmount", permit.Payment.MaxPayAmount)
	if err != nil {
		return nil, err
	}
	feeAmount, err := parseUint256("feeAmount", permit.Fee.FeeAmount)
	if err != nil {
		return nil, err
	}
	miniReceiveAmount, err := parseUint256("miniReceiveAmount", permit.Delivery.MiniReceiveAmount)
	if err != nil {
		return nil, err
	}
	tokenID, err := parseUint256("tokenId", permit.Delivery.TokenID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"meta": map[string]interface{}{
			"kind":        big.NewInt(int64(KindCode(permit.Meta.Kind))),
			"paymentId":   paymentID,
			"nonce":       nonce,
			"validAfter":  big.NewInt(permit.Meta.ValidAfter),
			"validBefore": big.NewInt(permit.Meta.ValidBefore),
		},
		"buyer":  buyer,
		"caller": caller,
		"payment": map[string]interface{}{
			"payToken":     payToken,
			"maxPayAmount": maxPayAmount,
			"payTo":        payTo,
		},
		"fee": map[string]interface{}{
			"feeTo":     feeTo,
			"feeAmount": feeAmount,
		},
		"delivery": map[string]interface{}{
			"receiveToken":      receiveToken,
			"miniReceiveAmount": miniReceiveAmount,
			"tokenId":           tokenID,
		},
	}, nil
}

// DecodePermitMessage converts an EIP-712 message map back into a wire
// permit. It is the inverse of EncodePermitMessage: EVM-hex addresses become
// Base58Check, numeric values become decimal strings, the kind code becomes
// its name and the payment id becomes a hex string.
func DecodePermitMessage(message map[string]interface{}) (x402.PaymentPermit, error) {
	var permit x402.PaymentPermit

	meta, ok := message["meta"].(map[string]interface{})
	if !ok {
		return permit, &x402.EncodingError{Field: "meta", Err: fmt.Errorf("missing meta block")}
	}
	payment, ok := message["payment"].(map[string]interface{})
	if !ok {
		return permit, &x402.EncodingError{Field: "payment", Err: fmt.Errorf("missing payment block")}
	}
	fee, ok := message["fee"].(map[string]interface{})
	if !ok {
		return permit, &x402.EncodingError{Field: "fee", Err: fmt.Errorf("missing fee block")}
	}
	delivery, ok := message["delivery"].(map[string]interface{})
	if !ok {
		return permit, &x402.EncodingError{Field: "delivery", Err: fmt.Errorf("missing delivery block")}
	}

	kind := x402.KindPaymentOnly
	if code, ok := meta["kind"].(*big.Int); ok && code.Int64() == 1 {
		kind = x402.KindPaymentAndDelivery
	}
	paymentID, ok := meta["paymentId"].([]byte)
	if !ok || len(paymentID) != 16 {
		return permit, &x402.EncodingError{Field: "paymentId", Err: fmt.Errorf("not a 16-byte value")}
	}

	fields := map[string]string{}
	for name, holder := range map[string]map[string]interface{}{
		"buyer": message, "caller": message,
		"payToken": payment, "payTo": payment,
		"feeTo":        fee,
		"receiveToken": delivery,
	} {
		hexAddr, ok := holder[name].(string)
		if !ok {
			return permit, &x402.EncodingError{Field: name, Err: fmt.Errorf("missing address")}
		}
		decoded, err := AddressPayload(hexAddr)
		if err != nil {
			return permit, &x402.EncodingError{Field: name, Value: hexAddr, Err: err}
		}
		fields[name] = EncodeBase58(decoded)
	}

	amounts := map[string]string{}
	for name, holder := range map[string]map[string]interface{}{
		"nonce": meta, "validAfter": meta, "validBefore": meta,
		"maxPayAmount": payment,
		"feeAmount":    fee,
		"miniReceiveAmount": delivery, "tokenId": delivery,
	} {
		value, ok := holder[name].(*big.Int)
		if !ok {
			return permit, &x402.EncodingError{Field: name, Err: fmt.Errorf("missing integer")}
		}
		amounts[name] = value.String()
	}

	validAfter, _ := new(big.Int).SetString(amounts["validAfter"], 10)
	validBefore, _ := new(big.Int).SetString(amounts["validBefore"], 10)

	return x402.PaymentPermit{
		Meta: x402.PermitMeta{
			Kind:        kind,
			PaymentID:   "0x" + hex.EncodeToString(paymentID),
			Nonce:       amounts["nonce"],
			ValidAfter:  validAfter.Int64(),
			ValidBefore: validBefore.Int64(),
		},
		Buyer:  fields["buyer"],
		Caller: fields["caller"],
		Payment: x402.PermitPayment{
			PayToken:     fields["payToken"],
			MaxPayAmount: amounts["maxPayAmount"],
			PayTo:        fields["payTo"],
		},
		Fee: x402.PermitFee{
			FeeTo:     fields["feeTo"],
			FeeAmount: amounts["feeAmount"],
		},
		Delivery: x402.PermitDelivery{
			ReceiveToken:      fields["receiveToken"],
			MiniReceiveAmount: amounts["miniReceiveAmount"],
			TokenID:           amounts["tokenId"],
		},
	}, nil
}

// EncodeTransferAuthMessage converts a transfer authorization into the
// EIP-712 message map.
func EncodeTransferAuthMessage(auth TransferAuthorization) (map[string]interface{}, error) {
	from, err := ToEVMHex(auth.From)
	if err != nil {
		return nil, &x402.EncodingError{Field: "from", Value: auth.From, Err: err}
	}
	to, err := ToEVMHex(auth.To)
	if err != nil {
		return nil, &x402.EncodingError{Field: "to", Value: auth.To, Err: err}
	}
	value, err := parseUint256("value", auth.Value)
	if err != nil {
		return nil, err
	}
	validAfter, err := parseUint256("validAfter", auth.ValidAfter)
	if err != nil {
		return nil, err
	}
	validBefore, err := parseUint256("validBefore", auth.ValidBefore)
	if err != nil {
		return nil, err
	}
	nonce, err := HexToBytes32(auth.Nonce)
	if err != nil {
		return nil, &x402.EncodingError{Field: "nonce", Value: auth.Nonce, Err: err}
	}

	return map[string]interface{}{
		"from":        from,
		"to":          to,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonce[:],
	}, nil
}

// PaymentIDBytes decodes a payment id into its 16-byte form. Hex strings of
// up to 16 bytes are right-padded with zeros; an empty id is all zeros.
func PaymentIDBytes(paymentID string) ([]byte, error) {
	out := make([]byte, 16)
	trimmed := strings.TrimPrefix(paymentID, "0x")
	if trimmed == "" {
		return out, nil
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) > 16 {
		return nil, &x402.EncodingError{Field: "paymentId", Value: paymentID, Err: fmt.Errorf("not a 16-byte hex value")}
	}
	copy(out, raw)
	return out, nil
}

// HexToBytes32 decodes a 32-byte hex string.
func HexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func parseUint256(field, value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok || n.Sign() < 0 {
		return nil, &x402.EncodingError{Field: field, Value: value, Err: fmt.Errorf("not a non-negative decimal integer")}
	}
	return n, nil
}
