// Package deps resolves the external binaries a processor backend needs.
package deps
