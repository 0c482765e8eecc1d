package account

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"projecthub/cmd/identity"
	"projecthub/cmd/internal/docstore"
)

// GetDocument returns a project document.
func (s *Service) GetDocument(ctx context.Context, key string) (docstore.Document, error) {
	return s.docs.GetDocument(ctx, key)
}

// PutDocument upserts a project document.
func (s *Service) PutDocument(ctx context.Context, key string, payload json.RawMessage) (docstore.Document, error) {
	return s.docs.PutDocument(ctx, key, payload)
}

// DocumentIDs lists the project ids owned by email. tok must belong to email.
func (s *Service) DocumentIDs(ctx context.Context, tok, email string) ([]string, error) {
	key, err := s.owner("account.DocumentIDs", tok, email)
	if err != nil {
		return nil, err
	}
	u, err := s.loadUser(ctx, key)
	if err != nil {
		return nil, err
	}
	return u.DocumentIDs, nil
}

// AddDocumentID appends id to the owner's list. Ids already present are kept
// once and nothing is written.
func (s *Service) AddDocumentID(ctx context.Context, tok, email, id string) ([]string, error) {
	return s.editDocumentIDs(ctx, "account.AddDocumentID", tok, email, id, func(ids []string) ([]string, bool) {
		if slices.Contains(ids, id) {
			return ids, false
		}
		return append(slices.Clone(ids), id), true
	})
}

// RemoveDocumentID drops id from the owner's list. Removing an id that is
// not listed is a successful no-op.
func (s *Service) RemoveDocumentID(ctx context.Context, tok, email, id string) ([]string, error) {
	return s.editDocumentIDs(ctx, "account.RemoveDocumentID", tok, email, id, func(ids []string) ([]string, bool) {
		if !slices.Contains(ids, id) {
			return ids, false
		}
		return slices.DeleteFunc(slices.Clone(ids), func(x string) bool { return x == id }), true
	})
}

// editDocumentIDs applies edit to the cached list and then to the stored
// one. The store applies edit to its own copy, so the committed list never
// drops an entry another writer already committed.
func (s *Service) editDocumentIDs(
	ctx context.Context,
	op, tok, email, id string,
	edit func([]string) ([]string, bool),
) (out []string, err error) {
	defer func() { s.record("document_ids", err) }()

	if strings.TrimSpace(id) == "" {
		return nil, identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "document id is required"}
	}
	unlock := s.lockAccount(identity.NormalizeEmail(email))
	defer unlock()

	key, err := s.owner(op, tok, email)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadUser(ctx, key); err != nil {
		return nil, err
	}

	local, changed, rollback, err := s.ids.EditDocumentIDs(key, edit)
	if err != nil {
		return nil, err
	}
	if !changed {
		return local.DocumentIDs, nil
	}

	stored, err := s.docs.UpdateDocumentIDs(ctx, key, edit)
	if err != nil {
		rollback()
		if identity.IsNotFound(err) {
			// The record was deleted underneath us; the account is gone.
			s.ids.DeleteUser(key)
		}
		s.log.WarnContext(ctx, "account.document_ids.commit.fail", slog.String("op", op), slog.Any("err", err))
		return nil, err
	}
	s.ids.RefreshUser(stored)
	return stored.DocumentIDs, nil
}

// DeleteAccount removes the owner's record from the store, then drops the
// cached user and all of its sessions. tok must belong to email.
func (s *Service) DeleteAccount(ctx context.Context, tok, email string) (err error) {
	defer func() { s.record("delete_user", err) }()

	unlock := s.lockAccount(identity.NormalizeEmail(email))
	defer unlock()

	key, err := s.owner("account.DeleteAccount", tok, email)
	if err != nil {
		return err
	}
	if err := s.docs.DeleteUser(ctx, key); err != nil {
		return err
	}
	s.ids.DeleteUser(key)
	return nil
}
