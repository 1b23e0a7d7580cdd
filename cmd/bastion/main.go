// Bastion is a security policy engine for distributed services.
//
// It stores versioned security policies, evaluates request contexts
// against them, resolves conflicts between matching policies, records
// violations and propagates policies to the services they apply to.
//
// Usage:
//
//	# Start the engine and its admin API with the default configuration
//	bastion run
//
//	# Start with a custom configuration file
//	bastion run --config /etc/bastion/config.yaml
//
//	# Validate policy bundles
//	bastion lint --file policies.yaml
//
//	# Evaluate a request context offline
//	bastion evaluate --policies policies/ --context request.yaml
//
//	# Show version information
//	bastion version
package main

func main() {
	Execute()
}
