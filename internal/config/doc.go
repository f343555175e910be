// Package config loads and validates tetra.json project configuration.
package config
