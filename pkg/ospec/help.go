package ospec

// Help returns a description of the ospec grammar.
func Help() string {
	return helpText
}

const helpText = `Object specifications (ospecs)

An ospec names a set of objects. Groups separated by "," are resolved
independently and joined; terms separated by ":" are applied left to
right, each to the result of the one before. Parentheses group.

  i,x.north,*zamboni     my inventory, the room north of here, zamboni
  e:i:!=me               everything in my environment except me
  u:f.>.->query_level.5  users above level 5

Keywords
  me  here              yourself, your environment
  it him her them       the last single/plural result
  u  l                  users (interactive only after the first term), livings
  w  m                  wizards, mortals
  i  I                  inventory, deep inventory
  e  E                  environment, all environments
  s                     shadows
  !=                    remove duplicates

Prefixes
  #N iN                 Nth inventory item (from 0)
  sN s-N                Nth shadow from the bottom / from the top
  *name  @name          player, living thing
  $name                 variable ($$ is the last result)
  #'sym                 map through a function (environment, all_inventory,
                        deep_inventory, all_shadows, first_inventory,
                        load_name, query_ip_name, ...)
  ->method(args)        map through a method call
  +spec  !=spec  ==spec add, remove, intersect with a sub-spec
  >level  <level        above / below an OrdLevel

Operators
  x.dir  x.!            the room through an exit, or through every exit
  f.<expr>              keep objects for which <expr> is true
  sort.<expr>           sort high to low by <expr>; sort- sorts low to high
  id.name prop.name     keep objects answering to id(name) / test_prop(name)
  prog.path             keep objects compiled from path
  u.lvl[.lvl] level.…   users within an OrdLevel range
  ip.regexp             interactive objects whose hostname matches
  mapfile.file.conv     map each line of file: OSPEC, FILTER, find_player,
                        find_living, find_object, load_object

Slices
  [n]  [a..b]  [a..<b]  [a..]

Expressions (f, sort, sort-)
  value                 true when non-zero
  !.value               negation
  <.a.b  <=  >  >=      comparison
  ==.a.b  !=.a.b        equality
  ?.c.a.b               a if c, else b

  Values: THISO, LIST, ->method(args), name(args), #'sym, "text",
  (spec) as a list, [spec] as its first object, integers, words.

Anything else is a file name (if it contains "/" or ends in the source
suffix), an item inside the current objects, or, as a first term, a name
looked up by priority: i inventory, e environment, o object, p player,
f file, l living.
`
