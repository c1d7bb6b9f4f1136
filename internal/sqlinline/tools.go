package sqlinline

const QSelectToolUnitCost = `--sql 41495b97-e16b-4e10-a28a-f9dcc467bd92
select unit_cost
from tools
where id = $1::text;
`

const QSelectToolIsVideo = `--sql 9c3e52a1-6f0b-4d8e-b7a4-2e15c8d90f63
select is_video
from tools
where id = $1::text;
`
