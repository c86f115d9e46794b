// Package services holds the error taxonomy shared by the external adapter
// clients. Subpackages implement the individual service integrations.
package services
