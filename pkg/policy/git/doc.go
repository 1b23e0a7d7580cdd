// Package git loads policy bundles from a Git repository.
//
// The repository is cloned into a local directory and the bundle files
// under the configured path are read with the same rules as a file
// source. When watched, the remote is polled and the engine reloads after
// a pull that touched bundle files.
//
// # Basic Usage
//
//	src, err := git.NewSource(&cfg.Source.Git, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	eng, err := engine.New(engineCfg, engine.WithSource(src))
//
// # Authentication
//
// Supports three authentication methods:
//   - Token-based (HTTPS): GitHub, GitLab, Bitbucket tokens
//   - SSH key-based: Public key authentication
//   - None: Public repositories and local paths
//
// # Branch-Based Environments
//
// Point each environment at its own branch:
//
//	source:
//	  type: git
//	  watch: true
//	  git:
//	    repository: https://github.com/company/policies.git
//	    branch: staging
//	    path: bundles/
package git
