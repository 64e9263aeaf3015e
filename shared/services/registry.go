// Package services provides the minimal service registry the
// simulator's node wiring uses to start/stop every long-running
// component in a fixed order, mirroring how beacon-chain/node.go
// drives a shared.ServiceRegistry of registered services.
package services

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "services")

// Service is anything with a start/stop lifecycle that the registry
// can drive; Status reports the last known health of the service.
type Service interface {
	Start()
	Stop() error
	Status() error
}

// Registry tracks registered services by concrete type, starts them
// together in registration order, and stops them in reverse order.
type Registry struct {
	lock     sync.Mutex
	services map[reflect.Type]Service
	order    []reflect.Type
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[reflect.Type]Service)}
}

// RegisterService adds a service to the registry, keyed by its
// concrete type so callers can later fetch it back with
// FetchService.
func (r *Registry) RegisterService(s Service) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	kind := reflect.TypeOf(s)
	if _, exists := r.services[kind]; exists {
		return fmt.Errorf("service already registered: %v", kind)
	}
	r.services[kind] = s
	r.order = append(r.order, kind)
	return nil
}

// FetchService populates dest (a pointer to a Service-implementing
// type) with the registered instance of that type.
func (r *Registry) FetchService(dest interface{}) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	element := reflect.ValueOf(dest).Elem()
	if s, ok := r.services[element.Type()]; ok {
		element.Set(reflect.ValueOf(s))
		return nil
	}
	return fmt.Errorf("unknown service: %v", element.Type())
}

// StartAll starts every registered service in registration order.
func (r *Registry) StartAll() {
	r.lock.Lock()
	defer r.lock.Unlock()
	log.Infof("Starting %d services", len(r.order))
	for _, kind := range r.order {
		log.Debugf("Starting service %v", kind)
		r.services[kind].Start()
	}
}

// StopAll stops every registered service in reverse registration
// order.
func (r *Registry) StopAll() {
	r.lock.Lock()
	defer r.lock.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		kind := r.order[i]
		if err := r.services[kind].Stop(); err != nil {
			log.Errorf("Could not stop service %v: %v", kind, err)
		}
	}
}

// Statuses returns the current Status() of every registered service.
func (r *Registry) Statuses() map[reflect.Type]error {
	r.lock.Lock()
	defer r.lock.Unlock()
	statuses := make(map[reflect.Type]error, len(r.services))
	for kind, s := range r.services {
		statuses[kind] = s.Status()
	}
	return statuses
}
