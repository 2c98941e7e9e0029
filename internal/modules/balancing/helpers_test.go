package balancing

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func amounts(values ...int64) []*big.Int {
	result := make([]*big.Int, len(values))
	for i, v := range values {
		result[i] = big.NewInt(v)
	}
	return result
}

func amount(v int64) *big.Int {
	return big.NewInt(v)
}

// assertInstruction compares an instruction against an expected pool and quantity.
func assertInstruction(t *testing.T, ins Instruction, pool PoolRef, qty int64) {
	t.Helper()
	assert.Equal(t, pool, ins.Pool)
	assert.Equal(t, 0, ins.Quantity().Cmp(big.NewInt(qty)), "expected qty %d, got %s", qty, ins.Quantity())
}

func assertEmpty(t *testing.T, instructions []Instruction, from int) {
	t.Helper()
	for i := from; i < len(instructions); i++ {
		assert.True(t, instructions[i].IsEmpty(), "instruction %d should be empty, got %s", i, instructions[i])
		assert.Equal(t, 0, instructions[i].Quantity().Sign())
	}
}

func toStrings(values []*big.Int) []string {
	result := make([]string, len(values))
	for i, v := range values {
		result[i] = v.String()
	}
	return result
}

func newAmount(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}
