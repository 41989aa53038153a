package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

var (
	firestoreClient   *firestore.Client
	firestoreClientMu sync.Mutex
)

func getFirestoreProjectID() string {
	if v := os.Getenv("FIRESTORE_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return ""
}

// GetFirestoreClient returns the shared Firestore client for the remote document store.
// FIRESTORE_EMULATOR_HOST is honoured by the client library itself.
func GetFirestoreClient(ctx context.Context) (*firestore.Client, error) {
	firestoreClientMu.Lock()
	defer firestoreClientMu.Unlock()

	if firestoreClient != nil {
		return firestoreClient, nil
	}

	projectID := getFirestoreProjectID()
	if projectID == "" {
		return nil, errors.New("FIRESTORE_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var opts []option.ClientOption
	if credJSON := os.Getenv("FIRESTORE_CREDENTIALS_JSON"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}

	c, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firestore client: %w", err)
	}
	firestoreClient = c
	log.Printf("firestore client ready (project_id=%s)", projectID)
	return c, nil
}

func CloseFirestoreClient() error {
	firestoreClientMu.Lock()
	defer firestoreClientMu.Unlock()
	if firestoreClient == nil {
		return nil
	}
	err := firestoreClient.Close()
	firestoreClient = nil
	return err
}
