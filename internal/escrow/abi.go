package escrow

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// bountyEscrowABI is the subset of the escrow contract the service calls or reads.
const bountyEscrowABI = `[
  {"type":"function","name":"fundBounty","stateMutability":"payable",
   "inputs":[{"name":"bountyId","type":"uint256"},{"name":"deadline","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"payWinner","stateMutability":"nonpayable",
   "inputs":[{"name":"bountyId","type":"uint256"},{"name":"winner","type":"address"}],"outputs":[]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable",
   "inputs":[{"name":"bountyId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"bounties","stateMutability":"view",
   "inputs":[{"name":"bountyId","type":"uint256"}],
   "outputs":[
     {"name":"funder","type":"address"},
     {"name":"amount","type":"uint256"},
     {"name":"deadline","type":"uint256"},
     {"name":"winner","type":"address"},
     {"name":"paid","type":"bool"},
     {"name":"refunded","type":"bool"}
   ]}
]`

var contractABI = mustParseABI(bountyEscrowABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("escrow: invalid contract ABI: " + err.Error())
	}
	return parsed
}
