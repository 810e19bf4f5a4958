/*
Package policy decides when an agent should checkpoint.

A Policy sees the step just completed, how many steps have passed since
the last persisted checkpoint, how many checkpoints exist, and the
oracle verdict. Implementations must answer without I/O.

	Always{}           checkpoint after every step
	Never{}            never checkpoint
	EveryN{N: 5}       every fifth step, and at FINAL
	NewExpr(cond)      when a boolean condition holds

# Conditions

Expr conditions use a small language over these variables:

	step                     integer step (FINAL sorts as the largest int64)
	final                    true at the terminal step
	steps_since_checkpoint   steps since the last checkpoint, including this one
	checkpoints              persisted checkpoint count
	verified                 oracle verdict

Operators are ==, !=, <, >, <=, >=, and, or, not (or !) and "a % n",
which holds when a is a multiple of n. "or" binds loosest, then "and",
then negation:

	steps_since_checkpoint >= 3 or final
	step % 10 and verified

Unknown identifiers are rejected by NewExpr.
*/
package policy
