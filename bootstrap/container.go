package bootstrap

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// DefaultContainer is a map of named instances and lazily invoked factories
type DefaultContainer struct {
	factories map[string]ServiceFactory
	instances map[string]interface{}
	mutex     sync.RWMutex
}

// NewContainer creates an empty container
func NewContainer() *DefaultContainer {
	return &DefaultContainer{
		factories: make(map[string]ServiceFactory),
		instances: make(map[string]interface{}),
	}
}

// Register registers a factory, invoked on the first Resolve of name
func (c *DefaultContainer) Register(name string, factory ServiceFactory) error {
	if name == "" {
		return ErrEmptyName
	}
	if factory == nil {
		return fmt.Errorf("factory %s: %w", name, ErrNilService)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.hasLocked(name) {
		return fmt.Errorf("%s: %w", name, ErrAlreadyRegistered)
	}
	c.factories[name] = factory
	return nil
}

// RegisterInstance registers a ready instance
func (c *DefaultContainer) RegisterInstance(name string, instance interface{}) error {
	if name == "" {
		return ErrEmptyName
	}
	if instance == nil {
		return fmt.Errorf("instance %s: %w", name, ErrNilService)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.hasLocked(name) {
		return fmt.Errorf("%s: %w", name, ErrAlreadyRegistered)
	}
	c.instances[name] = instance
	return nil
}

// Replace registers instance under name, discarding any previous entry
func (c *DefaultContainer) Replace(name string, instance interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.factories, name)
	c.instances[name] = instance
}

// Resolve returns the instance registered under name. A factory runs
// without the container lock held so it may resolve its own dependencies;
// if two callers race, the first stored instance wins.
func (c *DefaultContainer) Resolve(name string) (interface{}, error) {
	c.mutex.RLock()
	instance, ok := c.instances[name]
	factory, hasFactory := c.factories[name]
	c.mutex.RUnlock()

	if ok {
		return instance, nil
	}
	if !hasFactory {
		return nil, fmt.Errorf("%s: %w", name, ErrNotRegistered)
	}

	built, err := factory(c)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", name, err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if existing, ok := c.instances[name]; ok {
		return existing, nil
	}
	c.instances[name] = built
	return built, nil
}

// ResolveAs resolves name and stores it in the value target points to
func (c *DefaultContainer) ResolveAs(name string, target interface{}) error {
	instance, err := c.Resolve(name)
	if err != nil {
		return err
	}

	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr || targetValue.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}

	instanceValue := reflect.ValueOf(instance)
	targetType := targetValue.Elem().Type()
	if !instanceValue.Type().AssignableTo(targetType) {
		return fmt.Errorf("%s of type %s is not assignable to %s",
			name, instanceValue.Type(), targetType)
	}

	targetValue.Elem().Set(instanceValue)
	return nil
}

// Has checks if name is registered
func (c *DefaultContainer) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.hasLocked(name)
}

func (c *DefaultContainer) hasLocked(name string) bool {
	_, hasFactory := c.factories[name]
	_, hasInstance := c.instances[name]
	return hasFactory || hasInstance
}

// Names returns all registered names, sorted
func (c *DefaultContainer) Names() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]string, 0, len(c.factories)+len(c.instances))
	for name := range c.instances {
		names = append(names, name)
	}
	for name := range c.factories {
		if _, ok := c.instances[name]; !ok {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}
