// Package services provides the retry strategies for the supported remote
// APIs: the Datastore key-value store, Cloud Storage and Pub/Sub.
//
// Each strategy pairs a retry table with the generic body classifier and,
// where the service misbehaves, a pre-classification step that runs first.
package services

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/LeadPages/gcloud-requests/logger"
	"github.com/LeadPages/gcloud-requests/retry"
)

// Strategy names accepted by Lookup.
const (
	NameDatastore = "datastore"
	NameStorage   = "storage"
	NamePubSub    = "pubsub"
	NameDefault   = "default"
)

// OAuth scopes requested by each service.
var (
	DatastoreScopes = []string{
		"https://www.googleapis.com/auth/datastore",
	}
	StorageScopes = []string{
		"https://www.googleapis.com/auth/devstorage.full_control",
		"https://www.googleapis.com/auth/devstorage.read_only",
		"https://www.googleapis.com/auth/devstorage.read_write",
	}
	PubSubScopes = []string{
		"https://www.googleapis.com/auth/pubsub",
		"https://www.googleapis.com/auth/cloud-platform",
	}
)

var (
	datastoreTable = retry.StatusTable(map[retry.Status]int{
		retry.StatusAborted:          5,
		retry.StatusInternal:         1,
		retry.StatusUnknown:          1,
		retry.StatusUnavailable:      5,
		retry.StatusDeadlineExceeded: 5,
	})
	storageTable = retry.CodeTable(map[int]int{
		http.StatusTooManyRequests:     10,
		http.StatusInternalServerError: 5,
		http.StatusBadGateway:          5,
		http.StatusServiceUnavailable:  5,
	})
	pubsubTable = retry.StatusTable(map[retry.Status]int{
		retry.StatusResourceExhausted: 5,
		retry.StatusInternal:          3,
		retry.StatusUnavailable:       5,
		retry.StatusDeadlineExceeded:  5,
	})
)

// base carries the shared classifier and the strategy identity.
type base struct {
	name       string
	scopes     []string
	classifier retry.Classifier
}

func newBase(name string, scopes []string, log logger.Logger) base {
	return base{name: name, scopes: scopes, classifier: retry.NewClassifier(log)}
}

// Name identifies the strategy.
func (b base) Name() string { return b.name }

// Scopes returns a copy of the service's OAuth scopes.
func (b base) Scopes() []string {
	out := make([]string, len(b.scopes))
	copy(out, b.scopes)
	return out
}

// Datastore retries by canonical status. ABORTED is never retried inside a
// transaction, and HTML 502 pages from the front end count as UNAVAILABLE.
type Datastore struct {
	base
}

// NewDatastore creates the Datastore strategy.
func NewDatastore(log logger.Logger) *Datastore {
	return &Datastore{base: newBase(NameDatastore, DatastoreScopes, log)}
}

// Classify implements retry.Classifier.
func (d *Datastore) Classify(resp *retry.Response) retry.Failure {
	if resp != nil && resp.StatusCode == http.StatusBadGateway &&
		strings.HasPrefix(resp.ContentType(), "text/html") {
		return retry.Failure{Status: retry.StatusUnavailable}
	}
	return d.classifier.Classify(resp)
}

// MaxRetries implements retry.Policy.
func (d *Datastore) MaxRetries(f retry.Failure, depth int) (int, bool) {
	if f.Status == retry.StatusAborted && depth > 0 {
		return 0, false
	}
	return datastoreTable.Lookup(f)
}

// Storage retries by numeric code. An empty 503 counts as code 503.
type Storage struct {
	base
}

// NewStorage creates the Cloud Storage strategy.
func NewStorage(log logger.Logger) *Storage {
	return &Storage{base: newBase(NameStorage, StorageScopes, log)}
}

// Classify implements retry.Classifier.
func (s *Storage) Classify(resp *retry.Response) retry.Failure {
	if resp != nil && resp.StatusCode == http.StatusServiceUnavailable && len(resp.Body) == 0 {
		return retry.Failure{Code: http.StatusServiceUnavailable}
	}
	return s.classifier.Classify(resp)
}

// MaxRetries implements retry.Policy.
func (s *Storage) MaxRetries(f retry.Failure, _ int) (int, bool) {
	return storageTable.Lookup(f)
}

// PubSub retries by canonical status.
type PubSub struct {
	base
}

// NewPubSub creates the Pub/Sub strategy.
func NewPubSub(log logger.Logger) *PubSub {
	return &PubSub{base: newBase(NamePubSub, PubSubScopes, log)}
}

// Classify implements retry.Classifier.
func (p *PubSub) Classify(resp *retry.Response) retry.Failure {
	return p.classifier.Classify(resp)
}

// MaxRetries implements retry.Policy.
func (p *PubSub) MaxRetries(f retry.Failure, _ int) (int, bool) {
	return pubsubTable.Lookup(f)
}

// Default classifies failures for logging but never retries them.
type Default struct {
	base
}

// NewDefault creates the strategy used when no service is configured.
func NewDefault(log logger.Logger) *Default {
	return &Default{base: newBase(NameDefault, nil, log)}
}

// Classify implements retry.Classifier.
func (d *Default) Classify(resp *retry.Response) retry.Failure {
	return d.classifier.Classify(resp)
}

// MaxRetries implements retry.Policy.
func (d *Default) MaxRetries(retry.Failure, int) (int, bool) {
	return 0, false
}

// Lookup returns the strategy registered under name. The empty name selects Default.
func Lookup(name string, log logger.Logger) (retry.Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameDatastore:
		return NewDatastore(log), nil
	case NameStorage:
		return NewStorage(log), nil
	case NamePubSub:
		return NewPubSub(log), nil
	case NameDefault, "":
		return NewDefault(log), nil
	default:
		return nil, fmt.Errorf("unknown service strategy %q", name)
	}
}
