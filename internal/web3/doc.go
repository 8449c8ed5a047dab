// Package web3 holds the read-only chain connectivity used to annotate mocked
// on-chain requests with live network metadata. Chains are declared in a YAML
// file and resolved through the provider registry.
package web3
