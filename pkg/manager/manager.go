package manager

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"transcode-pipeline/pkg/config"
)

// Resource is a process-wide connection or client with open/close lifecycle.
type Resource interface {
	MustOpen()
	Close()
}

// ResourcePlugin creates a named resource; registered from package init().
type ResourcePlugin interface {
	Name() string
	MustCreateResource() Resource
}

// Component is a long-running background unit (consumer, registrar).
type Component interface {
	Start() error
	Stop() error
	GetName() string
}

// ComponentPlugin creates a component from the injected dependencies.
type ComponentPlugin interface {
	Name() string
	MustCreateComponent(deps *Dependencies) Component
}

// Dependencies is the DI container handed to components and routes.
type Dependencies struct {
	DB        *gorm.DB
	Config    *config.Config
	UploadApp interface{}
}

// RouteRegistrar mounts a controller onto the engine.
type RouteRegistrar func(engine *gin.Engine, deps *Dependencies)

var (
	mu               sync.Mutex
	resourcePlugins  []ResourcePlugin
	resources        []Resource
	componentPlugins []ComponentPlugin
	components       []Component
	routeRegistrars  []RouteRegistrar
)

// RegisterResourcePlugin adds a resource plugin; call from init().
func RegisterResourcePlugin(plugins ...ResourcePlugin) {
	mu.Lock()
	defer mu.Unlock()
	resourcePlugins = append(resourcePlugins, plugins...)
}

// RegisterComponentPlugin adds a component plugin; call from init().
func RegisterComponentPlugin(plugins ...ComponentPlugin) {
	mu.Lock()
	defer mu.Unlock()
	componentPlugins = append(componentPlugins, plugins...)
}

// RegisterRouteRegistrar adds an HTTP route mount; call from init().
func RegisterRouteRegistrar(r RouteRegistrar) {
	mu.Lock()
	defer mu.Unlock()
	routeRegistrars = append(routeRegistrars, r)
}

// MustInitResources opens every registered resource; panics on failure.
func MustInitResources() {
	mu.Lock()
	defer mu.Unlock()
	for _, p := range resourcePlugins {
		r := p.MustCreateResource()
		r.MustOpen()
		resources = append(resources, r)
	}
}

// CloseResources closes resources in reverse open order.
func CloseResources() {
	mu.Lock()
	defer mu.Unlock()
	for i := len(resources) - 1; i >= 0; i-- {
		resources[i].Close()
	}
	resources = nil
}

// MustInitComponents builds and starts every registered component.
func MustInitComponents(deps *Dependencies) {
	mu.Lock()
	defer mu.Unlock()
	for _, p := range componentPlugins {
		c := p.MustCreateComponent(deps)
		if c == nil {
			continue
		}
		if err := c.Start(); err != nil {
			panic(fmt.Sprintf("start component %s: %v", p.Name(), err))
		}
		components = append(components, c)
	}
}

// RegisterAllRoutes mounts every registered controller.
func RegisterAllRoutes(engine *gin.Engine, deps *Dependencies) {
	mu.Lock()
	defer mu.Unlock()
	for _, r := range routeRegistrars {
		r(engine, deps)
	}
}

// Shutdown stops components in reverse start order.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	for i := len(components) - 1; i >= 0; i-- {
		_ = components[i].Stop()
	}
	components = nil
}
