package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/metorial/signal/internal/idgen"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/store"
)

var (
	// ErrDestinationInactive is returned when changing a deleted destination.
	ErrDestinationInactive = errors.New("destination is inactive")
	// ErrVariantTypeChange is returned when an update switches destination type.
	ErrVariantTypeChange = errors.New("cannot change destination variant type")
)

// Variant is the delivery configuration of a destination instance.
type Variant struct {
	Type   model.DestinationType `json:"type"`
	URL    string                `json:"url"`
	Method model.WebhookMethod   `json:"method"`
	// RotateSecret issues a new signing secret instead of carrying the
	// current one forward.
	RotateSecret bool `json:"rotate_secret,omitempty"`
}

// DestinationInput describes a new destination.
type DestinationInput struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	EventTypes  []string           `json:"event_types,omitempty"`
	Retry       *model.RetryPolicy `json:"retry,omitempty"`
	Variant     Variant            `json:"variant"`
}

// DestinationUpdate holds the fields to change; nil leaves a field as is.
type DestinationUpdate struct {
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	EventTypes  *[]string          `json:"event_types,omitempty"`
	Retry       *model.RetryPolicy `json:"retry,omitempty"`
	Variant     *Variant           `json:"variant,omitempty"`
}

// CreateDestination stores a destination together with its first webhook
// and instance.
func (s *Service) CreateDestination(ctx context.Context, tenantID, senderID string, in DestinationInput) (*model.Destination, error) {
	if in.Variant.Type == "" {
		in.Variant.Type = model.DestinationHTTPEndpoint
	}
	if in.Variant.Method == "" {
		in.Variant.Method = model.MethodPost
	}
	retry := model.DefaultRetryPolicy
	if in.Retry != nil {
		retry = *in.Retry
	}

	destID, err := idgen.GenerateWithPrefix(idgen.PrefixDestination)
	if err != nil {
		return nil, err
	}
	d := &model.Destination{
		ID:          destID,
		TenantID:    tenantID,
		SenderID:    senderID,
		Name:        in.Name,
		Description: in.Description,
		Type:        in.Variant.Type,
		Status:      model.DestinationActive,
		EventTypes:  in.EventTypes,
		Retry:       retry,
	}
	if err := model.ValidateDestination(d); err != nil {
		return nil, err
	}

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.CreateDestination(ctx, d); err != nil {
			return fmt.Errorf("create destination: %w", err)
		}
		inst, err := createInstance(ctx, tx, d, in.Variant, "")
		if err != nil {
			return err
		}
		d.CurrentInstanceID = inst.ID
		return tx.UpdateDestination(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetDestination(ctx, d.ID)
}

// UpdateDestination applies upd. A new variant creates a new instance and
// repoints the destination; earlier instances are kept for attempt history.
// Neither d nor upd is modified.
func (s *Service) UpdateDestination(ctx context.Context, d *model.Destination, upd DestinationUpdate) (*model.Destination, error) {
	if d.Status == model.DestinationInactive || d.DeletedAt != nil {
		return nil, ErrDestinationInactive
	}
	var variant *Variant
	if upd.Variant != nil {
		v := *upd.Variant
		if v.Type == "" {
			v.Type = d.Type
		}
		if v.Type != d.Type {
			return nil, ErrVariantTypeChange
		}
		if v.Method == "" {
			v.Method = model.MethodPost
		}
		variant = &v
	}

	next := *d
	if upd.Name != nil {
		next.Name = *upd.Name
	}
	if upd.Description != nil {
		next.Description = *upd.Description
	}
	if upd.EventTypes != nil {
		next.EventTypes = *upd.EventTypes
	}
	if upd.Retry != nil {
		next.Retry = *upd.Retry
	}
	if err := model.ValidateDestination(&next); err != nil {
		return nil, err
	}

	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if variant != nil {
			secret := ""
			if !variant.RotateSecret && d.CurrentInstance != nil && d.CurrentInstance.Webhook != nil {
				secret = d.CurrentInstance.Webhook.SigningSecret
			}
			inst, err := createInstance(ctx, tx, &next, *variant, secret)
			if err != nil {
				return err
			}
			next.CurrentInstanceID = inst.ID
		}
		return tx.UpdateDestination(ctx, &next)
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetDestination(ctx, d.ID)
}

// DeleteDestination soft-deletes d so fan-out no longer selects it.
func (s *Service) DeleteDestination(ctx context.Context, d *model.Destination) error {
	if d.Status == model.DestinationInactive || d.DeletedAt != nil {
		return ErrDestinationInactive
	}
	return s.store.DeleteDestination(ctx, d.ID)
}

// createInstance stores a webhook and an instance pointing at it. An empty
// secret generates a new one.
func createInstance(ctx context.Context, tx store.Store, d *model.Destination, v Variant, secret string) (*model.Instance, error) {
	hookID, err := idgen.GenerateWithPrefix(idgen.PrefixWebhook)
	if err != nil {
		return nil, err
	}
	if secret == "" {
		if secret, err = idgen.SigningSecret(); err != nil {
			return nil, err
		}
	}
	hook := &model.Webhook{
		ID:            hookID,
		TenantID:      d.TenantID,
		URL:           v.URL,
		Method:        v.Method,
		SigningSecret: secret,
	}
	if err := model.ValidateWebhook(hook); err != nil {
		return nil, err
	}
	if err := tx.CreateWebhook(ctx, hook); err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}

	instID, err := idgen.GenerateWithPrefix(idgen.PrefixInstance)
	if err != nil {
		return nil, err
	}
	inst := &model.Instance{
		ID:            instID,
		DestinationID: d.ID,
		Type:          v.Type,
		WebhookID:     hook.ID,
		Webhook:       hook,
	}
	if err := tx.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	return inst, nil
}
