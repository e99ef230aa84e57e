package repository

import (
	"github.com/ahmadzakiakmal/escrow-ledger/app"
	"github.com/ahmadzakiakmal/escrow-ledger/repository/models"
	"github.com/ahmadzakiakmal/escrow-ledger/settlement"
)

// Projection holds the rows a committed block contributes to the catalogue
type Projection struct {
	Registries   []models.Registry
	Items        []models.Item
	Events       []models.LifecycleEvent
	Transactions []models.Transaction
}

// ProjectBlock maps a committed block onto catalogue rows
func ProjectBlock(block *app.BlockResult) *Projection {
	p := &Projection{}

	for _, rec := range block.Registries {
		p.Registries = append(p.Registries, models.Registry{
			Address:       rec.Address.Hex(),
			Owner:         rec.Owner.Hex(),
			Nonce:         rec.Nonce,
			Size:          rec.Size,
			UpdatedHeight: block.Height,
			UpdatedAt:     block.Time,
		})
	}

	for _, rec := range block.Entries {
		p.Items = append(p.Items, models.Item{
			RegistryAddress: rec.Registry.Hex(),
			Index:           rec.Index,
			UnitAddress:     rec.Unit.Hex(),
			Title:           rec.Title,
			Price:           rec.Price,
			State:           rec.State.String(),
			StateCode:       uint8(rec.State),
			UpdatedHeight:   block.Height,
			UpdatedAt:       block.Time,
		})
	}

	for _, ev := range block.Events {
		row := models.LifecycleEvent{
			TxHash:      ev.TxHash.Hex(),
			LogIndex:    ev.LogIndex,
			BlockHeight: ev.Height,
			TxIndex:     ev.TxIndex,
			Timestamp:   block.Time,
		}
		switch e := ev.Event.(type) {
		case settlement.ItemCreated:
			row.Event = settlement.EventItemCreated
			row.RegistryAddress = e.Registry.Hex()
			row.UnitAddress = e.Unit.Hex()
			row.ItemIndex = e.Index
			row.NewState = settlement.Created.String()
			row.Title = e.Title
		case settlement.StateChanged:
			old := e.OldState.String()
			row.Event = settlement.EventStateChanged
			row.RegistryAddress = e.Registry.Hex()
			row.UnitAddress = e.Unit.Hex()
			row.ItemIndex = e.Index
			row.OldState = &old
			row.NewState = e.NewState.String()
			row.Title = e.Title
		default:
			continue
		}
		p.Events = append(p.Events, row)
	}

	for _, rec := range block.Txs {
		row := models.Transaction{
			TxHash:      rec.Hash.Hex(),
			BlockHeight: rec.Height,
			TxIndex:     rec.Index,
			Type:        string(rec.Type),
			Sender:      rec.Sender.Hex(),
			RequestID:   rec.RequestID,
			Code:        rec.Code,
			Status:      "OK",
			Error:       rec.Error,
			Timestamp:   block.Time,
		}
		if e, ok := settlement.ErrorByCode(rec.Code); ok {
			row.Status = e.ID
		} else if rec.Code != 0 {
			row.Status = "Internal"
		}
		if rec.Created != nil {
			created := rec.Created.Hex()
			row.Created = &created
		}
		p.Transactions = append(p.Transactions, row)
	}

	return p
}
