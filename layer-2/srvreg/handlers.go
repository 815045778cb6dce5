package srvreg

import (
	"context"
	"net/http"
	"time"

	"github.com/agritrace/agritracechain/layer-2/apperror"
	"github.com/agritrace/agritracechain/layer-2/identity"
	"github.com/agritrace/agritracechain/layer-2/products"
	"github.com/agritrace/agritracechain/layer-2/transactions"
)

// InfoHandler returns node information
func (sr *ServiceRegistry) InfoHandler(req *Request) (*Response, error) {
	ledgerStatus := "ok"
	ctx, cancel := context.WithTimeout(req.Context(), 3*time.Second)
	defer cancel()
	if err := sr.services.Ledger.HealthCheck(ctx); err != nil {
		ledgerStatus = err.Error()
	}

	return jsonResponse(http.StatusOK, map[string]any{
		"node_id":       sr.nodeID,
		"type":          "AgriTrace API Node",
		"status":        "active",
		"ledger_mode":   sr.mode,
		"ledger_status": ledgerStatus,
	})
}

// ListProductsHandler lists products matching the query filters
func (sr *ServiceRegistry) ListProductsHandler(req *Request) (*Response, error) {
	filter, err := products.ParseFilter(req.Query)
	if err != nil {
		return sr.errorResponse(req, err)
	}
	list, err := sr.services.Products.List(req.Context(), filter)
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, list)
}

// CreateProductHandler registers a product on the ledger and stores it
func (sr *ServiceRegistry) CreateProductHandler(req *Request) (*Response, error) {
	actor, err := sr.actor(req)
	if err != nil {
		return sr.errorResponse(req, err)
	}

	var body products.CreateInput
	if err := decodeBody(req, &body); err != nil {
		return sr.errorResponse(req, err)
	}

	product, err := sr.services.Products.Create(req.Context(), body, actor)
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusCreated, product)
}

func (sr *ServiceRegistry) GetProductHandler(req *Request) (*Response, error) {
	product, err := sr.services.Products.Get(req.Context(), req.Params["id"])
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, product)
}

// UpdateProductHandler applies a partial update. History, status and location are rejected.
func (sr *ServiceRegistry) UpdateProductHandler(req *Request) (*Response, error) {
	actor, err := sr.actor(req)
	if err != nil {
		return sr.errorResponse(req, err)
	}

	patch, err := products.ParsePatch([]byte(req.Body))
	if err != nil {
		return sr.errorResponse(req, err)
	}

	product, err := sr.services.Products.Update(req.Context(), req.Params["id"], patch, actor)
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, product)
}

func (sr *ServiceRegistry) DeleteProductHandler(req *Request) (*Response, error) {
	product, err := sr.services.Products.Delete(req.Context(), req.Params["id"])
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"message": "Product deleted successfully",
		"product": product,
	})
}

// TransportHandler appends one transport step
func (sr *ServiceRegistry) TransportHandler(req *Request) (*Response, error) {
	actor, err := sr.actor(req)
	if err != nil {
		return sr.errorResponse(req, err)
	}

	var body products.TransportInput
	if err := decodeBody(req, &body); err != nil {
		return sr.errorResponse(req, err)
	}

	product, err := sr.services.Products.AppendTransportEvent(req.Context(), req.Params["id"], body, actor)
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, product)
}

func (sr *ServiceRegistry) QRCodeHandler(req *Request) (*Response, error) {
	qr, err := sr.services.Products.QRCode(req.Context(), req.Params["id"])
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, qr)
}

func (sr *ServiceRegistry) ListComplaintsHandler(req *Request) (*Response, error) {
	complaints, err := sr.services.Transactions.ListComplaints(req.Context(), req.Params["id"])
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, complaints)
}

// ScanHandler resolves a scanned QR code and verifies it against the ledger
func (sr *ServiceRegistry) ScanHandler(req *Request) (*Response, error) {
	result, err := sr.services.Products.Scan(req.Context(), req.Params["code"])
	if apperror.KindOf(err) == apperror.KindNotFound {
		return jsonResponse(http.StatusNotFound, map[string]any{
			"error":    "Product not found",
			"verified": false,
		})
	}
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, result)
}

// CheckAddressWalletHandler reports which role, if any, owns a wallet address
func (sr *ServiceRegistry) CheckAddressWalletHandler(req *Request) (*Response, error) {
	res, err := sr.services.Identities.ResolveRole(req.Context(), req.Query.Get("addressWallet"))
	if err != nil {
		return sr.errorResponse(req, err)
	}
	if res.Available {
		return jsonResponse(http.StatusOK, map[string]any{
			"available": true,
			"message":   "Wallet address is available",
		})
	}
	return jsonResponse(http.StatusOK, map[string]any{
		"role":       res.Role,
		"collection": res.Collection,
		"message":    "Wallet address already exists in " + res.Collection,
	})
}

func (sr *ServiceRegistry) RegisterIdentityHandler(req *Request) (*Response, error) {
	var body identity.RegisterInput
	if err := decodeBody(req, &body); err != nil {
		return sr.errorResponse(req, err)
	}
	created, err := sr.services.Identities.Register(req.Context(), body)
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusCreated, created)
}

func (sr *ServiceRegistry) GetIdentityHandler(req *Request) (*Response, error) {
	found, err := sr.services.Identities.Get(req.Context(), req.Params["address"])
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, found)
}

// GetNonceHandler issues a login challenge for a wallet
func (sr *ServiceRegistry) GetNonceHandler(req *Request) (*Response, error) {
	nonce, err := sr.services.Auth.IssueNonce(req.Context(), req.Query.Get("addressWallet"))
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, map[string]string{"nonce": nonce})
}

// VerifySignatureHandler exchanges a signed nonce for an access token
func (sr *ServiceRegistry) VerifySignatureHandler(req *Request) (*Response, error) {
	var body struct {
		AddressWallet string `json:"addressWallet"`
		Signature     string `json:"signature"`
		Nonce         string `json:"nonce"`
	}
	if err := decodeBody(req, &body); err != nil {
		return sr.errorResponse(req, err)
	}

	session, err := sr.services.Auth.VerifySignature(req.Context(), body.AddressWallet, body.Nonce, body.Signature)
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, session)
}

func (sr *ServiceRegistry) PayHandler(req *Request) (*Response, error) {
	var body transactions.PaymentInput
	if err := decodeBody(req, &body); err != nil {
		return sr.errorResponse(req, err)
	}
	receipt, err := sr.services.Transactions.Pay(req.Context(), body)
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, receipt)
}

func (sr *ServiceRegistry) ComplaintHandler(req *Request) (*Response, error) {
	var body transactions.ComplaintInput
	if err := decodeBody(req, &body); err != nil {
		return sr.errorResponse(req, err)
	}
	receipt, err := sr.services.Transactions.Complain(req.Context(), body)
	if err != nil {
		return sr.errorResponse(req, err)
	}
	return jsonResponse(http.StatusOK, receipt)
}
