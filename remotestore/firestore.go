package remotestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore is the Store backed by Cloud Firestore collections named after local tables.
type Firestore struct {
	client *firestore.Client
}

func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

func (f *Firestore) NewID() string {
	return uuid.NewString()
}

func (f *Firestore) Upsert(ctx context.Context, collection string, id string, data map[string]interface{}) error {
	if id == "" {
		return fmt.Errorf("upsert %s: id is required", collection)
	}
	ref := f.client.Collection(collection).Doc(id)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		fields := make(map[string]interface{}, len(data)+2)
		for k, v := range data {
			fields[k] = v
		}
		fields[FieldUpdatedAt] = firestore.ServerTimestamp

		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			fields[FieldCreatedAt] = firestore.ServerTimestamp
		}
		return tx.Set(ref, fields, firestore.MergeAll)
	})
	return classify(err)
}

func (f *Firestore) Get(ctx context.Context, collection string, id string) (*Document, error) {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, classify(err)
	}
	d := toDocument(snap)
	return &d, nil
}

func (f *Firestore) query(collection string, filters []Filter) firestore.Query {
	q := f.client.Collection(collection).Query
	for _, flt := range filters {
		q = q.Where(flt.Field, string(flt.Op), flt.Value)
	}
	return q
}

func (f *Firestore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	iter := f.query(collection, filters).Documents(ctx)
	defer iter.Stop()

	var docs []Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classify(err)
		}
		docs = append(docs, toDocument(snap))
	}
	return docs, nil
}

func (f *Firestore) Delete(ctx context.Context, collection string, id string) error {
	_, err := f.client.Collection(collection).Doc(id).Delete(ctx)
	return classify(err)
}

func (f *Firestore) Watch(ctx context.Context, collection string, filters []Filter, onChange func([]Change), onError func(error)) (Subscription, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	iter := f.query(collection, filters).Snapshots(watchCtx)
	sub := &firestoreSubscription{iter: iter, cancel: cancel}

	go func() {
		for {
			snap, err := iter.Next()
			if err != nil {
				if watchCtx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, iterator.Done) {
					return
				}
				if onError != nil {
					onError(classify(err))
				}
				return
			}
			if len(snap.Changes) == 0 || onChange == nil {
				continue
			}
			batch := make([]Change, 0, len(snap.Changes))
			for _, c := range snap.Changes {
				batch = append(batch, Change{Kind: changeKind(c.Kind), Doc: toDocument(c.Doc)})
			}
			onChange(batch)
		}
	}()
	return sub, nil
}

type firestoreSubscription struct {
	iter   *firestore.QuerySnapshotIterator
	cancel context.CancelFunc
	once   sync.Once
}

func (s *firestoreSubscription) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.iter.Stop()
	})
}

func changeKind(k firestore.DocumentChangeKind) ChangeKind {
	switch k {
	case firestore.DocumentAdded:
		return ChangeAdded
	case firestore.DocumentRemoved:
		return ChangeRemoved
	default:
		return ChangeModified
	}
}

func toDocument(snap *firestore.DocumentSnapshot) Document {
	data := snap.Data()
	for k, v := range data {
		data[k] = fromFirestoreValue(v)
	}
	return Document{
		ID:         snap.Ref.ID,
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}
}

func fromFirestoreValue(v interface{}) interface{} {
	switch x := v.(type) {
	case *firestore.DocumentRef:
		if x == nil {
			return nil
		}
		return Ref{Path: x.Path}
	case []interface{}:
		out := make([]interface{}, len(x))
		for i := range x {
			out[i] = fromFirestoreValue(x[i])
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, vv := range x {
			out[k] = fromFirestoreValue(vv)
		}
		return out
	default:
		return v
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}
