// Package runtime provides the Service/ServiceRegistry pattern the
// Node composition root (C11) uses to start and stop its long-running
// components, adapted from the teacher's
// runtime/service_registry.go.
package runtime

import (
	"context"
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "registry")

// Service is implemented by the long-running components the Node
// registers: BlockProcessor, the forward and backfill RangeSyncers,
// RequestManager, and SlotScheduler satisfy this so ServiceRegistry can
// start/stop them uniformly. ConsensusManager, GossipController,
// DutyDispatcher, and EventBus do not implement it.
type Service interface {
	// Start spawns any goroutines the service needs, returning once
	// they are launched (not once they finish).
	Start(ctx context.Context) error
	// Stop terminates the service's goroutines, blocking until they
	// have all exited.
	Stop() error
	// Status returns a non-nil error if the service is unhealthy.
	Status() error
}

// ServiceRegistry manages a set of services keyed by their concrete
// type, starting them in registration order and stopping them in
// reverse, so a later-registered service (which may depend on an
// earlier one) is always torn down first.
type ServiceRegistry struct {
	services     map[reflect.Type]Service
	serviceTypes []reflect.Type
}

// NewServiceRegistry constructs an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[reflect.Type]Service),
	}
}

// RegisterService adds service to the registry under its concrete type.
// Registering the same type twice is an error.
func (s *ServiceRegistry) RegisterService(service Service) error {
	kind := reflect.TypeOf(service)
	if _, exists := s.services[kind]; exists {
		return fmt.Errorf("service already exists: %v", kind)
	}
	s.services[kind] = service
	s.serviceTypes = append(s.serviceTypes, kind)
	return nil
}

// FetchService sets *service to the registered instance of its type.
func (s *ServiceRegistry) FetchService(service interface{}) error {
	if reflect.TypeOf(service).Kind() != reflect.Ptr {
		return fmt.Errorf("input must be of pointer type, received value type instead: %T", service)
	}
	element := reflect.ValueOf(service).Elem()
	if running, ok := s.services[element.Type()]; ok {
		element.Set(reflect.ValueOf(running))
		return nil
	}
	return fmt.Errorf("unknown service: %T", service)
}

// StartAll starts every registered service in registration order.
func (s *ServiceRegistry) StartAll(ctx context.Context) error {
	log.Debugf("Starting %d services: %v", len(s.serviceTypes), s.serviceTypes)
	for _, kind := range s.serviceTypes {
		log.Debugf("Starting service type %v", kind)
		if err := s.services[kind].Start(ctx); err != nil {
			return fmt.Errorf("could not start service %v: %w", kind, err)
		}
	}
	return nil
}

// StopAll stops every registered service in reverse registration
// order, logging (but not aborting on) individual stop failures so a
// single misbehaving service does not prevent the rest from shutting
// down cleanly.
func (s *ServiceRegistry) StopAll() {
	for i := len(s.serviceTypes) - 1; i >= 0; i-- {
		kind := s.serviceTypes[i]
		if err := s.services[kind].Stop(); err != nil {
			log.WithError(err).Errorf("could not stop service: %v", kind)
		}
	}
}

// Statuses returns each registered service's current Status() result.
func (s *ServiceRegistry) Statuses() map[reflect.Type]error {
	m := make(map[reflect.Type]error, len(s.serviceTypes))
	for _, kind := range s.serviceTypes {
		m[kind] = s.services[kind].Status()
	}
	return m
}
