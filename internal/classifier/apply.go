package classifier

import (
	"github.com/dvloznov/journal-classifier/internal/domain"
	"github.com/dvloznov/journal-classifier/internal/masters"
)

// Keys written back onto caller-owned source items.
const (
	SourceKeyAccountItem       = "accountItem"
	SourceKeyConfidence        = "confidence"
	SourceKeyReasoning         = "reasoning"
	SourceKeyAIDescription     = "aiDescription"
	SourceKeyMatchedVendorID   = "matchedVendorId"
	SourceKeyMatchedVendorName = "matchedVendorName"
	SourceKeyVendorConfidence  = "vendorConfidence"
)

// Apply merges pred into tx. The reasoning and model description are kept
// identical: whichever the model supplied feeds both. Fields the prediction
// leaves empty keep the values already on tx, and vendor matches are only
// applied when the model named a vendor.
func Apply(tx *domain.Transaction, pred domain.AccountPrediction, cat *masters.Catalogs) {
	conf := pred.Confidence
	tx.AccountName = pred.Account
	tx.Confidence = &conf

	shared := pred.Reasoning
	if shared == "" {
		shared = pred.Description
	}
	if shared != "" {
		tx.Reasoning = shared
		tx.ModelDescription = shared
	}

	if pred.MatchedAccountCode != "" {
		tx.MatchedAccountCode = pred.MatchedAccountCode
	}
	if pred.MatchedAccountName != "" {
		tx.MatchedAccountName = pred.MatchedAccountName
	}
	if pred.AccountConfidence != nil {
		tx.AccountConfidence = pred.AccountConfidence
	}
	if tx.MatchedAccountCode == "" {
		if a, ok := cat.FindAccount(pred.Account); ok {
			tx.MatchedAccountCode = a.Code
		}
	}

	if pred.MatchedVendorID != "" {
		tx.MatchedVendorID = pred.MatchedVendorID
		tx.MatchedVendorName = pred.MatchedVendorName
		tx.VendorConfidence = pred.VendorConfidence
		if v, ok := cat.FindVendor(pred.MatchedVendorID); ok {
			tx.MatchedVendorCode = v.Code
			if tx.MatchedVendorName == "" {
				tx.MatchedVendorName = v.Name
			}
		}
	}

	tx.RawResponse = pred.RawResponse
	tx.Model = pred.Model
	tx.TokensUsed = pred.TokensUsed
}

// WriteBack mirrors the classification on tx onto the source item it was
// derived from, when tx carries a reference into sources.
func WriteBack(tx *domain.Transaction, sources []map[string]any) {
	if tx.Ref == nil || *tx.Ref < 0 || *tx.Ref >= len(sources) {
		return
	}
	src := sources[*tx.Ref]
	if src == nil {
		return
	}

	src[SourceKeyAccountItem] = tx.AccountName
	if tx.Confidence != nil {
		src[SourceKeyConfidence] = *tx.Confidence
	}
	src[SourceKeyReasoning] = tx.Reasoning
	src[SourceKeyAIDescription] = tx.ModelDescription

	if tx.MatchedVendorID != "" {
		src[SourceKeyMatchedVendorID] = tx.MatchedVendorID
		src[SourceKeyMatchedVendorName] = tx.MatchedVendorName
		if tx.VendorConfidence != nil {
			src[SourceKeyVendorConfidence] = *tx.VendorConfidence
		}
	}
}
