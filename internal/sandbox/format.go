package sandbox

import "strings"

// TypedArrayNames lists the constructors the console formatter prints as
// "Name(length) [items]".
var TypedArrayNames = []string{
	"Uint8ClampedArray",
	"Uint8Array", "Int8Array",
	"Uint16Array", "Int16Array",
	"Uint32Array", "Int32Array",
	"Float32Array", "Float64Array",
	"BigUint64Array", "BigInt64Array",
}

// formatterSource is the pretty printer the console shim applies to every
// logged value. Nested strings are quoted; arrays, typed arrays, plain
// objects, sets and maps get a readable shape; anything else passes through.
const formatterSource = `const isDefined = x => x !== null && x !== undefined

  const isString = x => typeof x === 'string'

  const isArray = Array.isArray

  const is = fn => x => isDefined(x) && x.constructor === fn

  const typedArrays = new Set([%s])

  const isTypedArray = x => (isDefined(x) &&
    x.constructor && typedArrays.has(x.constructor.name))

  const fmt = (x, depth = 0) => {
    if (depth > 0 && isString(x)) {
      return "'" + x + "'"
    }
    if (isArray(x)) {
      return '[' + x.map(xi => fmt(xi, depth + 1)).join(', ') + ']'
    }
    if (isTypedArray(x)) {
      return x.constructor.name + '(' + x.length + ') [' + x.join(', ') + ']'
    }
    if (is(Object)(x)) {
      let y = '{ '
      const entries = []
      for (const k in x) entries.push(k + ': ' + fmt(x[k], depth + 1))
      y += entries.join(', ')
      y += ' }'
      return y
    }
    if (is(Set)(x)) {
      return 'Set { ' + [...x].map(xi => fmt(xi, depth + 1)).join(', ') + ' }'
    }
    if (is(Map)(x)) {
      let y = 'Map { '
      const entries = []
      for (const [k, v] of x) entries.push(k + ' => ' + fmt(v, depth + 1))
      y += entries.join(', ')
      y += ' }'
      return y
    }
    return x
  }`

func typedArrayList() string {
	quoted := make([]string, len(TypedArrayNames))
	for i, name := range TypedArrayNames {
		quoted[i] = "'" + name + "'"
	}
	return strings.Join(quoted, ", ")
}
