package main

import (
	"errors"

	"github.com/lanternlabs/beacon-node/beacon-chain/node"
	"github.com/urfave/cli/v2"
)

// errNoCollaborators is returned by newDependencies until a deployment
// supplies real implementations of node.Dependencies' collaborators.
// DB, ELManager, NETWORK, and VALIDATORS are external to this module by
// design (spec.md §1 lists them as out-of-scope, interface-only
// collaborators); this binary only owns the orchestrator wired in
// beacon-chain/node, not the subsystems it drives.
var errNoCollaborators = errors.New("no Chain/PeerPool/PubSub/RoleProvider implementations are linked into this binary")

// newDependencies is the integration seam between CLI flags and
// node.Dependencies. A deployment embedding this orchestrator into a
// full node replaces this function with one that opens the chain
// database, dials the execution client over the Engine API, joins the
// p2p network, and loads attached-validator keystores, then returns
// the resulting node.Dependencies.
func newDependencies(cliCtx *cli.Context) (node.Dependencies, error) {
	return node.Dependencies{}, errNoCollaborators
}
