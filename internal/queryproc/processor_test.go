package queryproc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MPoppinga/partitioncache/internal/queryproc"
)

func TestGenerateFragmentsTrivialSingleTable(t *testing.T) {
	t.Parallel()

	frags, err := queryproc.GenerateFragments(
		"SELECT DISTINCT region_id FROM customer WHERE c_mktsegment = 'BUILDING'",
		"region_id", queryproc.Options{},
	)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	require.Len(t, frags[0].Hash, 40)
	require.Equal(t, "select distinct customer.region_id from customer where 'BUILDING' = c_mktsegment", frags[0].Text)
}

func TestGenerateFragmentsRenamesAliasesToTableNames(t *testing.T) {
	t.Parallel()

	frags, err := queryproc.GenerateFragments(
		"SELECT x.id FROM orders x JOIN customer y ON x.cust_id = y.id WHERE y.region_id = 5",
		"region_id", queryproc.Options{},
	)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	require.Equal(t,
		"select distinct customer.region_id from customer, orders "+
			"where 5 = customer.region_id and customer.id = orders.cust_id",
		frags[0].Text)
}

func TestGenerateFragmentsDeterministic(t *testing.T) {
	t.Parallel()

	sql := `SELECT o.id, SUM(o.amount) FROM orders o JOIN customer c ON o.cust_id = c.id
	        WHERE c.region_id = 5 AND o.status = 'open' GROUP BY o.id ORDER BY o.id LIMIT 10`

	first, err := queryproc.GenerateFragments(sql, "region_id", queryproc.Options{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := queryproc.GenerateFragments(sql, "region_id", queryproc.Options{})
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestGenerateFragmentsHashInsensitiveToWhitespaceAndAliasRenaming(t *testing.T) {
	t.Parallel()

	a, err := queryproc.GenerateFragments(
		"SELECT o.id FROM orders o JOIN customer c ON o.cust_id=c.id WHERE c.region_id = 5",
		"region_id", queryproc.Options{},
	)
	require.NoError(t, err)

	b, err := queryproc.GenerateFragments(`
	    SELECT   x.id
	    FROM     orders   x
	    JOIN     customer y ON x.cust_id = y.id
	    WHERE    y.region_id    =    5
	`, "region_id", queryproc.Options{})
	require.NoError(t, err)

	require.Equal(t, hashSet(a), hashSet(b))
}

func TestGenerateFragmentsHashInsensitiveToJoinVsCommaForm(t *testing.T) {
	t.Parallel()

	joinForm, err := queryproc.GenerateFragments(
		"SELECT o.id FROM orders o JOIN customer c ON o.cust_id = c.id WHERE c.region_id = 5",
		"region_id", queryproc.Options{},
	)
	require.NoError(t, err)

	commaForm, err := queryproc.GenerateFragments(
		"SELECT o.id FROM orders o, customer c WHERE o.cust_id = c.id AND c.region_id = 5",
		"region_id", queryproc.Options{},
	)
	require.NoError(t, err)

	require.Equal(t, hashSet(joinForm), hashSet(commaForm))
}

func TestGenerateFragmentsHashInsensitiveToAndReordering(t *testing.T) {
	t.Parallel()

	a, err := queryproc.GenerateFragments(
		"SELECT region_id FROM customer WHERE status = 'active' AND segment = 'BUILDING'",
		"region_id", queryproc.Options{},
	)
	require.NoError(t, err)

	b, err := queryproc.GenerateFragments(
		"SELECT region_id FROM customer WHERE segment = 'BUILDING' AND status = 'active'",
		"region_id", queryproc.Options{},
	)
	require.NoError(t, err)

	require.Equal(t, hashSet(a), hashSet(b))
}

func TestGenerateFragmentsHashInsensitiveToCommutedOperands(t *testing.T) {
	t.Parallel()

	a, err := queryproc.GenerateFragments("SELECT id FROM customer WHERE region_id = 5", "region_id", queryproc.Options{})
	require.NoError(t, err)

	b, err := queryproc.GenerateFragments("SELECT id FROM customer WHERE 5 = region_id", "region_id", queryproc.Options{})
	require.NoError(t, err)

	require.Equal(t, hashSet(a), hashSet(b))
}

func TestGenerateFragmentsSnapEquivalentDistance(t *testing.T) {
	t.Parallel()

	opts := queryproc.Options{GeometryColumn: "geom", BufferUnit: 100}

	a, err := queryproc.GenerateFragments(
		"SELECT p.region_id FROM poi p WHERE distance(p.geom, p.center) < 150",
		"region_id", opts,
	)
	require.NoError(t, err)

	b, err := queryproc.GenerateFragments(
		"SELECT p.region_id FROM poi p WHERE distance(p.geom, p.center) < 200",
		"region_id", opts,
	)
	require.NoError(t, err)

	require.Equal(t, hashSet(a), hashSet(b))
}

func TestGenerateFragmentsConstantFoldingDropsTrivialPredicate(t *testing.T) {
	t.Parallel()

	withTrivial, err := queryproc.GenerateFragments(
		"SELECT id FROM customer WHERE region_id = region_id AND status = 'active'",
		"region_id", queryproc.Options{},
	)
	require.NoError(t, err)

	without, err := queryproc.GenerateFragments(
		"SELECT id FROM customer WHERE status = 'active'",
		"region_id", queryproc.Options{},
	)
	require.NoError(t, err)

	require.Equal(t, hashSet(withTrivial), hashSet(without))
}

func TestGenerateFragmentsNoPartitionKeyIsStrictByDefault(t *testing.T) {
	t.Parallel()

	_, err := queryproc.GenerateFragments(
		"SELECT o.id FROM orders o JOIN customer c ON o.cust_id = c.id WHERE c.status = 'active'",
		"region_id", queryproc.Options{},
	)
	require.Error(t, err)

	var npk *queryproc.NoPartitionKeyError
	require.ErrorAs(t, err, &npk)
}

func TestGenerateFragmentsNoPartitionKeyWarnsWhenConfigured(t *testing.T) {
	t.Parallel()

	frags, err := queryproc.GenerateFragments(
		"SELECT o.id FROM orders o JOIN customer c ON o.cust_id = c.id WHERE c.status = 'active'",
		"region_id", queryproc.Options{WarnNoPartitionKey: true},
	)
	require.NoError(t, err)
	require.Empty(t, frags)
}

func TestGenerateFragmentsSingleTableAnchorsWithoutExplicitKeyReference(t *testing.T) {
	t.Parallel()

	frags, err := queryproc.GenerateFragments(
		"SELECT c_name, COUNT(*) FROM customer WHERE c_mktsegment = 'BUILDING' GROUP BY c_name",
		"region_id", queryproc.Options{},
	)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	require.Equal(t, "select distinct customer.region_id from customer where 'BUILDING' = c_mktsegment", frags[0].Text)
}

func TestGenerateFragmentsUnparseableSQLIsParseError(t *testing.T) {
	t.Parallel()

	_, err := queryproc.GenerateFragments("NOT EVEN SQL (((", "region_id", queryproc.Options{})
	require.Error(t, err)

	var perr *queryproc.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestGenerateFragmentsFollowGraphEnumeratesMultipleSubsets(t *testing.T) {
	t.Parallel()

	sql := `SELECT o.id FROM orders o
	        JOIN customer c ON o.cust_id = c.id
	        JOIN region r ON c.region_id = r.id
	        WHERE r.id = 5`

	single, err := queryproc.GenerateFragments(sql, "id", queryproc.Options{})
	require.NoError(t, err)

	follow, err := queryproc.GenerateFragments(sql, "id", queryproc.Options{FollowGraph: true})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(follow), len(single))
}

func TestGenerateFragmentsFlattensSelfJoin(t *testing.T) {
	t.Parallel()

	frags, err := queryproc.GenerateFragments(
		"SELECT a.region_id FROM employee a JOIN employee b ON a.manager_id = b.manager_id WHERE b.region_id = 5",
		"region_id", queryproc.Options{},
	)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	require.NotContains(t, frags[0].Text, " employee b")
	require.NotContains(t, frags[0].Text, "employee a, employee")
}

func hashSet(frags []queryproc.Fragment) map[string]bool {
	out := make(map[string]bool, len(frags))
	for _, f := range frags {
		out[f.Hash] = true
	}

	return out
}
