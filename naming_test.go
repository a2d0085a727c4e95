package testdb_test

import (
	"strings"
	"testing"

	"github.com/peterldowns/testy/check"

	"github.com/peterldowns/testdb"
)

func databases(names ...string) []testdb.Database {
	out := make([]testdb.Database, 0, len(names))
	for _, name := range names {
		out = append(out, testdb.Database{Name: name})
	}
	return out
}

func TestNextNameStartsAtOne(t *testing.T) {
	t.Parallel()
	check.Equal(t, "test_db_orders_1", testdb.NextName(nil, "orders"))
	check.Equal(t, "test_db_orders_1", testdb.NextName(databases("default", "system"), "orders"))
}

func TestNextNameIsOneMoreThanHighest(t *testing.T) {
	t.Parallel()
	existing := databases(
		"default",
		"test_db_orders_3",
		"test_db_orders_1",
		"test_db_orders_10",
		"analytics",
	)
	check.Equal(t, "test_db_orders_11", testdb.NextName(existing, "orders"))
}

func TestNextNameIgnoresOtherIdentifiers(t *testing.T) {
	t.Parallel()
	existing := databases(
		"test_db_users_7",
		"test_db_orders_2",
		"test_db_orders_items_9",
		"test_db_order_5",
	)
	check.Equal(t, "test_db_orders_3", testdb.NextName(existing, "orders"))
	check.Equal(t, "test_db_users_8", testdb.NextName(existing, "users"))
	check.Equal(t, "test_db_orders_items_10", testdb.NextName(existing, "orders_items"))
}

func TestNextNameIgnoresMalformedSuffixes(t *testing.T) {
	t.Parallel()
	existing := databases(
		"test_db_orders_abc",
		"test_db_orders_",
		"test_db_orders_-4",
		"test_db_orders_2x",
		"test_db_orders_4",
	)
	check.Equal(t, "test_db_orders_5", testdb.NextName(existing, "orders"))
	check.Equal(t, "test_db_orders_1", testdb.NextName(databases("test_db_orders_abc"), "orders"))
}

func TestNextNameIgnoresMaxVersion(t *testing.T) {
	t.Parallel()
	existing := databases("test_db_orders_18446744073709551615", "test_db_orders_7")
	check.Equal(t, "test_db_orders_8", testdb.NextName(existing, "orders"))
	check.Equal(t, "test_db_orders_1", testdb.NextName(databases("test_db_orders_18446744073709551615"), "orders"))
	// one past the max does not parse at all
	check.Equal(t, "test_db_orders_1", testdb.NextName(databases("test_db_orders_18446744073709551616"), "orders"))
}

func TestNextNameIsDeterministic(t *testing.T) {
	t.Parallel()
	existing := databases("test_db_orders_1", "test_db_orders_2")
	first := testdb.NextName(existing, "orders")
	second := testdb.NextName(existing, "orders")
	check.Equal(t, first, second)
}

func TestVersion(t *testing.T) {
	t.Parallel()
	version, ok := testdb.Version("test_db_orders_12", "orders")
	check.Equal(t, true, ok)
	check.Equal(t, uint64(12), version)

	_, ok = testdb.Version("test_db_orders_x", "orders")
	check.Equal(t, false, ok)
	_, ok = testdb.Version("test_db_users_1", "orders")
	check.Equal(t, false, ok)
}

func TestIsDisposable(t *testing.T) {
	t.Parallel()
	check.Equal(t, true, testdb.IsDisposable("test_db_orders_1"))
	check.Equal(t, false, testdb.IsDisposable("default"))
	check.Equal(t, false, testdb.IsDisposable("test_orders_1"))
}

func TestIdentifier(t *testing.T) {
	t.Parallel()
	check.Equal(t, "orders", testdb.Identifier("orders"))
	check.Equal(t, "testorders", testdb.Identifier("TestOrders"))
	check.Equal(t, "testorders_with_tax", testdb.Identifier("TestOrders/with tax"))
	check.Equal(t, "testorders_case_01", testdb.Identifier("TestOrders/case#01"))
	check.Equal(t, "billing_testorders", testdb.Identifier("billing", "TestOrders"))
	check.Equal(t, "testorders", testdb.Identifier("", "TestOrders"))
}

func TestIdentifierTruncatesLongNames(t *testing.T) {
	t.Parallel()
	long := "TestAVeryLongTestNameThatKeepsGoing/with_a_subtest_name_too"
	other := "TestAVeryLongTestNameThatKeepsGoing/with_a_different_subtest"
	id := testdb.Identifier(long)
	check.Equal(t, 40, len(id))
	check.Equal(t, true, strings.HasPrefix(id, "testaverylongtestnamethatkeepsg_"))
	check.Equal(t, id, testdb.Identifier(long))
	check.NotEqual(t, id, testdb.Identifier(other))
}
