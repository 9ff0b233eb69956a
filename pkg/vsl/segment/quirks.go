package segment

// shortSeekForwardBytesQuirk reproduces, verbatim in intent, the
// original short-seek forward-byte computation:
//
//	i_seek_forward = p_access->info.i_pos - i_pos;
//
// where i_pos is the requested target and info.i_pos is the current
// cursor. Whenever the optimization's own precondition holds (target
// ahead of the cursor, i.e. pos > cursor), this subtracts the larger
// operand from the smaller one, producing a negative count that, on
// the unsigned forward-skip path the original used, becomes an
// enormous byte count instead of a small forward hop.
//
// This function exists only as a documented reference to that
// behavior (spec.md §9, open question 3) and is never called: Access.Seek
// computes the corrected pos - cursor itself.
func shortSeekForwardBytesQuirk(cursor, pos int64) int64 {
	return cursor - pos
}
