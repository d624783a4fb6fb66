package tron

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/open-aibank/x402-tron"
)

// Calldata builders for settlement and TRC-20 calls. Method ids come from
// the literal function signatures below; argument packing uses go-ethereum's
// ABI encoder. The tuple layouts mirror the deployed contract structs.

// Function signatures. The permit tuple is
// ((kind,paymentId,nonce,validAfter,validBefore),buyer,caller,
//  (payToken,maxPayAmount,payTo),(feeTo,feeAmount),
//  (receiveToken,miniReceiveAmount,tokenId)).
const (
	permitTupleSig = "((uint8,bytes16,uint256,uint256,uint256),address,address,(address,uint256,address),(address,uint256),(address,uint256,uint256))"

	SigPermitTransferFrom        = "permitTransferFrom(" + permitTupleSig + ",(uint256),address,bytes)"
	SigMerchantSettle            = "settle(" + permitTupleSig + ",bytes)"
	SigTransferWithAuthorization = "transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,bytes)"
	SigBalanceOf                 = "balanceOf(address)"
	SigAllowance                 = "allowance(address,address)"
	SigApprove                   = "approve(address,uint256)"
)

// MethodID returns the 4-byte selector of a literal function signature.
func MethodID(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

type permitMetaTuple struct {
	Kind        uint8
	PaymentId   [16]byte
	Nonce       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
}

type paymentTuple struct {
	PayToken     common.Address
	MaxPayAmount *big.Int
	PayTo        common.Address
}

type feeTuple struct {
	FeeTo     common.Address
	FeeAmount *big.Int
}

type deliveryTuple struct {
	ReceiveToken      common.Address
	MiniReceiveAmount *big.Int
	TokenId           *big.Int
}

type paymentPermitTuple struct {
	Meta     permitMetaTuple
	Buyer    common.Address
	Caller   common.Address
	Payment  paymentTuple
	Fee      feeTuple
	Delivery deliveryTuple
}

type transferDetailsTuple struct {
	Amount *big.Int
}

var (
	abiTypesOnce sync.Once
	abiTypesErr  error

	permitTupleType     abi.Type
	transferDetailsType abi.Type
	addressType         abi.Type
	uint256Type         abi.Type
	bytes32Type         abi.Type
	bytesType           abi.Type
)

func initABITypes() {
	metaComponents := []abi.ArgumentMarshaling{
		{Name: "kind", Type: "uint8"},
		{Name: "paymentId", Type: "bytes16"},
		{Name: "nonce", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
	}
	permitComponents := []abi.ArgumentMarshaling{
		{Name: "meta", Type: "tuple", Components: metaComponents},
		{Name: "buyer", Type: "address"},
		{Name: "caller", Type: "address"},
		{Name: "payment", Type: "tuple", Components: []abi.ArgumentMarshaling{
			{Name: "payToken", Type: "address"},
			{Name: "maxPayAmount", Type: "uint256"},
			{Name: "payTo", Type: "address"},
		}},
		{Name: "fee", Type: "tuple", Components: []abi.ArgumentMarshaling{
			{Name: "feeTo", Type: "address"},
			{Name: "feeAmount", Type: "uint256"},
		}},
		{Name: "delivery", Type: "tuple", Components: []abi.ArgumentMarshaling{
			{Name: "receiveToken", Type: "address"},
			{Name: "miniReceiveAmount", Type: "uint256"},
			{Name: "tokenId", Type: "uint256"},
		}},
	}

	build := func(t string, components []abi.ArgumentMarshaling) abi.Type {
		typ, err := abi.NewType(t, "", components)
		if err != nil && abiTypesErr == nil {
			abiTypesErr = err
		}
		return typ
	}

	permitTupleType = build("tuple", permitComponents)
	transferDetailsType = build("tuple", []abi.ArgumentMarshaling{
		{Name: "amount", Type: "uint256"},
	})
	addressType = build("address", nil)
	uint256Type = build("uint256", nil)
	bytes32Type = build("bytes32", nil)
	bytesType = build("bytes", nil)
}

func abiTypes() error {
	abiTypesOnce.Do(initABITypes)
	return abiTypesErr
}

func buildPermitTuple(permit x402.PaymentPermit) (paymentPermitTuple, error) {
	var tuple paymentPermitTuple

	paymentID, err := PaymentIDBytes(permit.Meta.PaymentID)
	if err != nil {
		return tuple, err
	}
	var paymentID16 [16]byte
	copy(paymentID16[:], paymentID)

	nonce, err := parseUint256("nonce", permit.Meta.Nonce)
	if err != nil {
		return tuple, err
	}
	maxPayAmount, err := parseUint256("maxPayAmount", permit.Payment.MaxPayAmount)
	if err != nil {
		return tuple, err
	}
	feeAmount, err := parseUint256("feeAmount", permit.Fee.FeeAmount)
	if err != nil {
		return tuple, err
	}
	miniReceiveAmount, err := parseUint256("miniReceiveAmount", permit.Delivery.MiniReceiveAmount)
	if err != nil {
		return tuple, err
	}
	tokenID, err := parseUint256("tokenId", permit.Delivery.TokenID)
	if err != nil {
		return tuple, err
	}

	buyer, err := toCommonAddress("buyer", permit.Buyer)
	if err != nil {
		return tuple, err
	}
	caller, err := toCommonAddress("caller", permit.Caller)
	if err != nil {
		return tuple, err
	}
	payToken, err := toCommonAddress("payToken", permit.Payment.PayToken)
	if err != nil {
		return tuple, err
	}
	payTo, err := toCommonAddress("payTo", permit.Payment.PayTo)
	if err != nil {
		return tuple, err
	}
	feeTo, err := toCommonAddress("feeTo", permit.Fee.FeeTo)
	if err != nil {
		return tuple, err
	}
	receiveToken, err := toCommonAddress("receiveToken", permit.Delivery.ReceiveToken)
	if err != nil {
		return tuple, err
	}

	tuple = paymentPermitTuple{
		Meta: permitMetaTuple{
			Kind:        KindCode(permit.Meta.Kind),
			PaymentId:   paymentID16,
			Nonce:       nonce,
			ValidAfter:  big.NewInt(permit.Meta.ValidAfter),
			ValidBefore: big.NewInt(permit.Meta.ValidBefore),
		},
		Buyer:  buyer,
		Caller: caller,
		Payment: paymentTuple{
			PayToken:     payToken,
			MaxPayAmount: maxPayAmount,
			PayTo:        payTo,
		},
		Fee: feeTuple{
			FeeTo:     feeTo,
			FeeAmount: feeAmount,
		},
		Delivery: deliveryTuple{
			ReceiveToken:      receiveToken,
			MiniReceiveAmount: miniReceiveAmount,
			TokenId:           tokenID,
		},
	}
	return tuple, nil
}

// EncodePermitTransferFrom builds calldata for the payment-only settlement
// path on the PaymentPermit contract. The transfer amount equals the
// permit's maxPayAmount; the destination comes from the permit itself.
func EncodePermitTransferFrom(permit x402.PaymentPermit, signature string) ([]byte, error) {
	if err := abiTypes(); err != nil {
		return nil, err
	}

	tuple, err := buildPermitTuple(permit)
	if err != nil {
		return nil, err
	}
	sigBytes, err := SignatureBytes(signature)
	if err != nil {
		return nil, err
	}

	args := abi.Arguments{
		{Type: permitTupleType},
		{Type: transferDetailsType},
		{Type: addressType},
		{Type: bytesType},
	}
	packed, err := args.Pack(
		tuple,
		transferDetailsTuple{Amount: tuple.Payment.MaxPayAmount},
		tuple.Buyer,
		sigBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack permitTransferFrom args: %w", err)
	}

	return append(MethodID(SigPermitTransferFrom), packed...), nil
}

// EncodeMerchantSettle builds calldata for the delivery settlement path on a
// merchant contract.
func EncodeMerchantSettle(permit x402.PaymentPermit, signature string) ([]byte, error) {
	if err := abiTypes(); err != nil {
		return nil, err
	}

	tuple, err := buildPermitTuple(permit)
	if err != nil {
		return nil, err
	}
	sigBytes, err := SignatureBytes(signature)
	if err != nil {
		return nil, err
	}

	args := abi.Arguments{
		{Type: permitTupleType},
		{Type: bytesType},
	}
	packed, err := args.Pack(tuple, sigBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to pack settle args: %w", err)
	}

	return append(MethodID(SigMerchantSettle), packed...), nil
}

// EncodeTransferWithAuthorization builds calldata for the native_exact
// settlement path on the token contract.
func EncodeTransferWithAuthorization(auth TransferAuthorization, signature string) ([]byte, error) {
	if err := abiTypes(); err != nil {
		return nil, err
	}

	from, err := toCommonAddress("from", auth.From)
	if err != nil {
		return nil, err
	}
	to, err := toCommonAddress("to", auth.To)
	if err != nil {
		return nil, err
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
	sigBytes, err := SignatureBytes(signature)
	if err != nil {
		return nil, err
	}

	args := abi.Arguments{
		{Type: addressType},
		{Type: addressType},
		{Type: uint256Type},
		{Type: uint256Type},
		{Type: uint256Type},
		{Type: bytes32Type},
		{Type: bytesType},
	}
	packed, err := args.Pack(from, to, value, validAfter, validBefore, nonce, sigBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transferWithAuthorization args: %w", err)
	}

	return append(MethodID(SigTransferWithAuthorization), packed...), nil
}

// EncodeBalanceOf builds calldata for a TRC-20 balanceOf read.
func EncodeBalanceOf(owner string) ([]byte, error) {
	if err := abiTypes(); err != nil {
		return nil, err
	}
	addr, err := toCommonAddress("owner", owner)
	if err != nil {
		return nil, err
	}
	packed, err := abi.Arguments{{Type: addressType}}.Pack(addr)
	if err != nil {
		return nil, err
	}
	return append(MethodID(SigBalanceOf), packed...), nil
}

// EncodeAllowance builds calldata for a TRC-20 allowance read.
func EncodeAllowance(owner, spender string) ([]byte, error) {
	if err := abiTypes(); err != nil {
		return nil, err
	}
	ownerAddr, err := toCommonAddress("owner", owner)
	if err != nil {
		return nil, err
	}
	spenderAddr, err := toCommonAddress("spender", spender)
	if err != nil {
		return nil, err
	}
	packed, err := abi.Arguments{{Type: addressType}, {Type: addressType}}.Pack(ownerAddr, spenderAddr)
	if err != nil {
		return nil, err
	}
	return append(MethodID(SigAllowance), packed...), nil
}

// EncodeApprove builds calldata for a TRC-20 approve.
func EncodeApprove(spender string, amount *big.Int) ([]byte, error) {
	if err := abiTypes(); err != nil {
		return nil, err
	}
	spenderAddr, err := toCommonAddress("spender", spender)
	if err != nil {
		return nil, err
	}
	packed, err := abi.Arguments{{Type: addressType}, {Type: uint256Type}}.Pack(spenderAddr, amount)
	if err != nil {
		return nil, err
	}
	return append(MethodID(SigApprove), packed...), nil
}

// DecodeUint256Result decodes a single uint256 return value from a constant
// contract call.
func DecodeUint256Result(data []byte) (*big.Int, error) {
	if err := abiTypes(); err != nil {
		return nil, err
	}
	values, err := abi.Arguments{{Type: uint256Type}}.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode uint256 result: %w", err)
	}
	result, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", values[0])
	}
	return result, nil
}

// SignatureBytes decodes a hex signature into bytes.
func SignatureBytes(signature string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return nil, &x402.EncodingError{Field: "signature", Value: signature, Err: err}
	}
	return raw, nil
}

func toCommonAddress(field, address string) (common.Address, error) {
	payload, err := AddressPayload(address)
	if err != nil {
		return common.Address{}, &x402.EncodingError{Field: field, Value: address, Err: err}
	}
	return common.BytesToAddress(payload[:]), nil
}
