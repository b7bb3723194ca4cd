// Package memory provides in-process repositories for every registry
// store. They back STORE_DRIVER=memory and the service tests.
package memory
