// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

// ResponseHandler receives the progress of one Send call.
//
// Within one call the order is OnStart, zero or more OnToken, then exactly
// one of OnComplete or OnError. OnCostUpdate fires at most once, after
// OnComplete, from a background goroutine.
type ResponseHandler interface {
	OnStart()
	OnToken(token string)
	OnComplete(fullText, generationID string)
	OnError(message string)

	// OnCostUpdate delivers the billed cost, or nil when it could not be resolved.
	OnCostUpdate(generationID string, cost *float64)
}

// HandlerFuncs adapts plain functions to ResponseHandler. Nil fields are skipped.
type HandlerFuncs struct {
	Start      func()
	Token      func(token string)
	Complete   func(fullText, generationID string)
	Error      func(message string)
	CostUpdate func(generationID string, cost *float64)
}

func (h HandlerFuncs) OnStart() {
	if h.Start != nil {
		h.Start()
	}
}

func (h HandlerFuncs) OnToken(token string) {
	if h.Token != nil {
		h.Token(token)
	}
}

func (h HandlerFuncs) OnComplete(fullText, generationID string) {
	if h.Complete != nil {
		h.Complete(fullText, generationID)
	}
}

func (h HandlerFuncs) OnError(message string) {
	if h.Error != nil {
		h.Error(message)
	}
}

func (h HandlerFuncs) OnCostUpdate(generationID string, cost *float64) {
	if h.CostUpdate != nil {
		h.CostUpdate(generationID, cost)
	}
}
