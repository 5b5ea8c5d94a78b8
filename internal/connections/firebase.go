package connections

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FirebaseClients holds the clients built from one Firebase app.
type FirebaseClients struct {
	App       *firebase.App
	Messaging *messaging.Client
	Firestore *firestore.Client
}

// Close releases the Firestore connection.
func (c *FirebaseClients) Close() error {
	if c.Firestore == nil {
		return nil
	}
	return c.Firestore.Close()
}

// InitFirebase connects to Firebase with a service account file. An empty
// credentialsFile falls back to application default credentials.
func InitFirebase(ctx context.Context, credentialsFile, projectId string) (*FirebaseClients, error) {
	var conf *firebase.Config
	if projectId != "" {
		conf = &firebase.Config{ProjectID: projectId}
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	fcmClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("fcm client: %w", err)
	}
	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &FirebaseClients{App: app, Messaging: fcmClient, Firestore: fsClient}, nil
}
