package api

import (
	"errors"
	"net/http"

	"clinicalledger/backend/internal/model"
	"clinicalledger/backend/internal/wallet"
)

type walletChallengeRequest struct {
	Address         string         `json:"address"`
	Type            string         `json:"type,omitempty"`
	Label           string         `json:"label,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CustomPublicKey string         `json:"customPublicKey,omitempty"`
}

func (s *Server) handleWalletChallenge(w http.ResponseWriter, r *http.Request) {
	var req walletChallengeRequest
	if err := readJSON(w, r, &req, 1<<16); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required", nil)
		return
	}
	family := req.Type
	if family == "" {
		family = model.WalletFamilyExternalSigner
	}

	scheme := ""
	if req.Metadata != nil {
		if v, ok := req.Metadata["scheme"].(string); ok {
			scheme = v
		}
	}

	result, err := s.wallets.IssueNonce(r.Context(), wallet.IssueNonceInput{
		Address:   req.Address,
		Family:    family,
		PublicKey: req.CustomPublicKey,
		Scheme:    scheme,
		Label:     req.Label,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"nonce":     result.Nonce,
		"message":   result.Message,
		"expiresAt": result.ExpiresAt,
		"wallet":    result.Wallet,
	})
}

type walletVerifyRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

func (s *Server) handleWalletVerify(w http.ResponseWriter, r *http.Request) {
	var req walletVerifyRequest
	if err := readJSON(w, r, &req, 1<<16); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Address == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "address and signature are required", nil)
		return
	}

	result, err := s.wallets.Verify(r.Context(), req.Address, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrUnknownWallet),
			errors.Is(err, wallet.ErrNoActiveNonce),
			errors.Is(err, wallet.ErrNonceExpired),
			errors.Is(err, wallet.ErrSignatureInvalid):
			writeError(w, http.StatusBadRequest, err.Error(), nil)
		default:
			writeError(w, http.StatusInternalServerError, err.Error(), nil)
		}
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"success":      true,
		"wallet":       result.Wallet,
		"verifiedAt":   result.VerifiedAt,
		"sessionToken": result.SessionToken,
		"proof":        result.Proof,
	})
}
